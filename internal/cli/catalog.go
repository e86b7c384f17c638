package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfcast/internal/diff"
	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/remote"
	"github.com/roach88/shelfcast/internal/store"
)

// CatalogOptions holds flags for the catalog commands.
type CatalogOptions struct {
	*RootOptions
	Field string
}

// CatalogView is the output of catalog show.
type CatalogView struct {
	Field    string       `json:"field"`
	Revision int64        `json:"revision"`
	Digest   string       `json:"digest"`
	Size     int          `json:"size"`
	Products []ir.Product `json:"products"`
}

// Text renders the catalog as a table.
func (v CatalogView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Field: %s (revision %d, %d products)\n", v.Field, v.Revision, v.Size)
	if v.Digest != "" {
		fmt.Fprintf(&b, "Digest: %s\n", v.Digest)
	}
	for _, p := range v.Products {
		fmt.Fprintf(&b, "  %-16s %-32s %s\n", p.Barcode, p.Name, p.Price.StringFixed(2))
	}
	return b.String()
}

// DiffView is the output of catalog diff.
type DiffView struct {
	Field     string   `json:"field"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged int      `json:"unchanged"`
}

// Text renders the diff with +/- markers.
func (v DiffView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Field: %s (%d added, %d removed, %d unchanged)\n",
		v.Field, len(v.Added), len(v.Removed), v.Unchanged)
	for _, barcode := range v.Added {
		fmt.Fprintf(&b, "  + %s\n", barcode)
	}
	for _, barcode := range v.Removed {
		fmt.Fprintf(&b, "  - %s (kept: removals are never applied)\n", barcode)
	}
	return b.String()
}

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the durable catalog",
	}
	cmd.PersistentFlags().StringVar(&opts.Field, "field", "", "field identifier (defaults to the configured or cached one)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored catalog of a field",
		Long: `Print the stored catalog of a field.

Examples:
  shelfcast catalog show
  shelfcast catalog show --field aisle-7 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCatalog(opts, cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff <file>",
		Short: "Compare the stored catalog with a catalog JSON file",
		Long: `Compare the stored catalog with a catalog JSON file.

The file holds either a product array or a backend response object with a
"products" key. The diff is by barcode only, as in a bootstrap: added
products would be merged, removed ones are reported and kept.

Example:
  shelfcast catalog diff ./realogram.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return diffCatalog(opts, args[0], cmd)
		},
	})

	return cmd
}

func showCatalog(opts *CatalogOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	st, field, err := openFieldStore(ctx, opts)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadCatalog(ctx, field)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read catalog", err)
	}
	return newFormatter(cmd, opts.RootOptions).Success(CatalogView{
		Field:    field,
		Revision: snap.Revision,
		Digest:   snap.Digest,
		Size:     len(snap.Products),
		Products: snap.Products,
	})
}

func diffCatalog(opts *CatalogOptions, path string, cmd *cobra.Command) error {
	next, err := readCatalogFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read catalog file", err)
	}

	ctx := commandContext(cmd)
	st, field, err := openFieldStore(ctx, opts)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadCatalog(ctx, field)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read catalog", err)
	}

	d := diff.Realograms(snap.Products, next)
	return newFormatter(cmd, opts.RootOptions).Success(DiffView{
		Field:     field,
		Added:     ir.Barcodes(d.Added),
		Removed:   ir.Barcodes(d.Removed),
		Unchanged: d.Unchanged,
	})
}

// readCatalogFile decodes a product array or a catalog response object.
func readCatalogFile(path string) ([]ir.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var products []ir.Product
		if err := json.Unmarshal(trimmed, &products); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return products, nil
	}

	var resp remote.CatalogResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resp.Products, nil
}

// openFieldStore opens the configured database and picks the field: the
// --field flag, then the configured override, then the cached identifier.
func openFieldStore(ctx context.Context, opts *CatalogOptions) (*store.Store, string, error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, "", err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to open database", err)
	}

	field := opts.Field
	if field == "" {
		field = cfg.FieldID
	}
	if field == "" {
		field, err = st.LoadFieldID(ctx)
		if err != nil {
			st.Close()
			if errors.Is(err, store.ErrNotFound) {
				return nil, "", NewExitError(ExitCommandError, "no field identifier: pass --field or run the agent first")
			}
			return nil, "", WrapExitError(ExitCommandError, "failed to read field identifier", err)
		}
	}
	return st, field, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
