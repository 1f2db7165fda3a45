package dist

import (
	"context"

	"github.com/splanck/viper-sub004/compiler"
	"github.com/splanck/viper-sub004/compiler/hash"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
)

// Compile returns the compiled form of m under opts, from the cache when
// an entry with the same content hash exists. hit reports which path was
// taken. A module that fails to compile is never cached.
func (s *Store) Compile(ctx context.Context, m *il.Module, opts compiler.Options) (mod *bc.Module, hit bool, err error) {
	h, err := hash.HashModule(m, opts)
	if err != nil {
		return nil, false, err
	}
	if mod, ok, err := s.Get(ctx, h); err != nil {
		return nil, false, err
	} else if ok {
		log.Debugf("cache hit for %s (%s)", m.Name, h)
		return mod, true, nil
	}

	mod, err = compiler.Compile(m, compiler.WithOptions(opts))
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(ctx, h, mod); err != nil {
		return nil, false, err
	}
	return mod, false, nil
}
