package vm

import bc "github.com/splanck/viper-sub004/pkg/bytecode"

// runSwitch is the switch-based engine. Hot opcodes are decoded inline;
// the rest share their implementation with the table engine.
func (i *Interpreter) runSwitch() {
	for !i.stop {
		if i.hooks && i.beforeStep() {
			return
		}
		i.ipc = i.pc
		w := i.code[i.pc]
		i.pc++
		s := i.stack

		switch bc.Opcode(w) {
		case bc.OpLoadLocal:
			s[i.sp] = s[i.base+int(uint8(w>>8))]
			i.sp++
		case bc.OpStoreLocal:
			i.sp--
			s[i.base+int(uint8(w>>8))] = s[i.sp]
		case bc.OpIncLocal:
			s[i.base+int(uint8(w>>8))]++
		case bc.OpDecLocal:
			s[i.base+int(uint8(w>>8))]--

		case bc.OpLoadI8:
			s[i.sp] = Slot(int64(int8(w >> 8)))
			i.sp++
		case bc.OpLoadI16:
			s[i.sp] = Slot(int64(int16(w >> 8)))
			i.sp++
		case bc.OpLoadZero, bc.OpLoadNull:
			s[i.sp] = 0
			i.sp++
		case bc.OpLoadOne:
			s[i.sp] = 1
			i.sp++

		case bc.OpDup:
			s[i.sp] = s[i.sp-1]
			i.sp++
		case bc.OpPop:
			i.sp--

		case bc.OpAddI64:
			i.sp--
			s[i.sp-1] += s[i.sp]
		case bc.OpSubI64:
			i.sp--
			s[i.sp-1] -= s[i.sp]
		case bc.OpMulI64:
			i.sp--
			s[i.sp-1] *= s[i.sp]

		case bc.OpCmpEqI64:
			i.sp--
			s[i.sp-1] = Bool(s[i.sp-1] == s[i.sp])
		case bc.OpCmpNeI64:
			i.sp--
			s[i.sp-1] = Bool(s[i.sp-1] != s[i.sp])
		case bc.OpCmpSLtI64:
			i.sp--
			s[i.sp-1] = Bool(int64(s[i.sp-1]) < int64(s[i.sp]))
		case bc.OpCmpSLeI64:
			i.sp--
			s[i.sp-1] = Bool(int64(s[i.sp-1]) <= int64(s[i.sp]))
		case bc.OpCmpSGtI64:
			i.sp--
			s[i.sp-1] = Bool(int64(s[i.sp-1]) > int64(s[i.sp]))
		case bc.OpCmpSGeI64:
			i.sp--
			s[i.sp-1] = Bool(int64(s[i.sp-1]) >= int64(s[i.sp]))

		case bc.OpJump:
			i.pc += int(int16(w >> 8))
		case bc.OpJumpIfTrue:
			i.sp--
			if s[i.sp] != 0 {
				i.pc += int(int16(w >> 8))
			}
		case bc.OpJumpIfFalse:
			i.sp--
			if s[i.sp] == 0 {
				i.pc += int(int16(w >> 8))
			}

		case bc.OpCall:
			i.call(int(uint16(w >> 8)))
		case bc.OpReturn:
			i.ret(true)

		default:
			opTable[byte(w)](i, w)
		}
	}
}
