package app

import (
	"fmt"

	"github.com/MrWong99/paath/internal/config"
	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/provider/compare/local"
	"github.com/MrWong99/paath/pkg/provider/compare/remote"
)

// Built-in comparer names.
const (
	LocalComparer  = "local"
	RemoteComparer = "remote"
)

// RegisterBuiltinComparers adds the "local" and "remote" factories to reg,
// leaving any existing registration under those names in place. Every
// "local" entry resolves to lc, so swapping its aligner reaches the whole
// chain.
func RegisterBuiltinComparers(reg *config.Registry, lc *local.Comparer) {
	registered := reg.Comparers()
	has := func(name string) bool {
		for _, n := range registered {
			if n == name {
				return true
			}
		}
		return false
	}

	if !has(LocalComparer) {
		reg.RegisterComparer(LocalComparer, func(config.ComparerEntry) (compare.Comparer, error) {
			return lc, nil
		})
	}

	if !has(RemoteComparer) {
		reg.RegisterComparer(RemoteComparer, func(entry config.ComparerEntry) (compare.Comparer, error) {
			var opts []remote.Option
			if entry.Timeout > 0 {
				opts = append(opts, remote.WithTimeout(entry.Timeout))
			}
			c, err := remote.New(entry.BaseURL, opts...)
			if err != nil {
				return nil, fmt.Errorf("remote comparer: %w", err)
			}
			return c, nil
		})
	}
}
