package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/shelfcast/internal/identity"
	"github.com/roach88/shelfcast/internal/store"
)

// IdentityView is the output of the identity commands.
type IdentityView struct {
	Field  string          `json:"field"`
	Source identity.Source `json:"source,omitempty"`
	// Revision is the revision of the field's stored catalog, 0 if none.
	Revision int64 `json:"revision,omitempty"`
	// Purged is set by reset --purge when a stored catalog was deleted.
	Purged bool `json:"purged,omitempty"`
}

// Text renders the identity.
func (v IdentityView) Text() string {
	if v.Field == "" {
		return "No field identifier\n"
	}
	s := fmt.Sprintf("Field: %s", v.Field)
	if v.Source != "" {
		s += fmt.Sprintf(" (%s)", v.Source)
	}
	if v.Revision > 0 {
		s += fmt.Sprintf(", catalog revision %d", v.Revision)
	}
	if v.Purged {
		s += ", catalog deleted"
	}
	return s + "\n"
}

// NewIdentityCommand creates the identity command group.
func NewIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show or reset the kiosk's field identifier",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "show",
		Short:         "Print the field identifier the agent would use",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showIdentity(rootOpts, cmd)
		},
	})

	var purge bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget the cached field identifier",
		Long: `Forget the cached field identifier. The agent prompts for a new
one on its next start. --purge also deletes the stored catalog of the
forgotten field.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resetIdentity(rootOpts, purge, cmd)
		},
	}
	reset.Flags().BoolVar(&purge, "purge", false, "also delete the stored catalog")
	cmd.AddCommand(reset)

	return cmd
}

func showIdentity(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	// No prompter: show never asks.
	id, err := identity.NewResolver(st, nil, cfg.FieldID).Resolve(ctx)
	if err != nil && !errors.Is(err, identity.ErrNoIdentity) {
		return WrapExitError(ExitCommandError, "failed to resolve identity", err)
	}

	view := IdentityView{Field: id.Field, Source: id.Source}
	if id.Field != "" {
		if view.Revision, err = st.CatalogRevision(ctx, id.Field); err != nil {
			return WrapExitError(ExitCommandError, "failed to read catalog revision", err)
		}
	}
	return newFormatter(cmd, opts).Success(view)
}

func resetIdentity(opts *RootOptions, purge bool, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	field, err := st.LoadFieldID(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "failed to read field identifier", err)
	}

	if err := identity.NewResolver(st, nil, "").Reset(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to reset identity", err)
	}

	view := IdentityView{Field: field}
	if purge && field != "" {
		if err := st.DeleteCatalog(ctx, field); err != nil {
			return WrapExitError(ExitCommandError, "failed to delete catalog", err)
		}
		view.Purged = true
	}
	newFormatter(cmd, opts).VerboseLog("forgot field identifier %q", field)
	return newFormatter(cmd, opts).Success(view)
}
