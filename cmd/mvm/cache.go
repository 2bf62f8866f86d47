package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/chazu/mathvm/store"
)

// cacheCommand processes `mvm cache`.
// Usage:
//
//	mvm cache list    Show cached program images
//	mvm cache clear   Remove all cached images
func (c *cli) cacheCommand(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: mvm cache list|clear")
	}
	switch args[0] {
	case "list", "clear":
	default:
		return fmt.Errorf("unknown cache subcommand %q", args[0])
	}

	m, err := project(".")
	if err != nil {
		return err
	}
	st, err := store.Open(m.CachePath())
	if err != nil {
		return err
	}
	defer st.Close()

	if args[0] == "clear" {
		n, err := st.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "removed %s images from %s\n", humanize.Comma(n), st.Path())
		return nil
	}

	entries, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(c.stdout, "cache %s is empty\n", st.Path())
		return nil
	}
	var total int64
	for _, e := range entries {
		fmt.Fprintf(c.stdout, "%s  %s  %9s  %s\n", e.Hash.Short(), e.ID, humanize.Bytes(uint64(e.Size)), humanize.Time(e.Created))
		total += e.Size
	}
	fmt.Fprintf(c.stdout, "%d images, %s\n", len(entries), humanize.Bytes(uint64(total)))
	return nil
}
