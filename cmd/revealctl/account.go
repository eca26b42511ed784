package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dukerupert/revealparty/internal/model"
	"github.com/dukerupert/revealparty/internal/revealapi"
)

type credentials struct {
	email    string
	password string
}

func (c *credentials) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.email, "email", "", "account email")
	cmd.Flags().StringVar(&c.password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	creds := &credentials{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, opts, func(ctx context.Context, c *revealapi.Client) (*model.AuthResponse, error) {
				return c.Login(ctx, creds.email, creds.password)
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func newRegisterCommand(opts *rootOptions) *cobra.Command {
	creds := &credentials{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account with a new pair of reveal links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, opts, func(ctx context.Context, c *revealapi.Client) (*model.AuthResponse, error) {
				return c.Register(ctx, creds.email, creds.password)
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func authenticate(cmd *cobra.Command, opts *rootOptions, call func(context.Context, *revealapi.Client) (*model.AuthResponse, error)) error {
	resp, err := call(cmd.Context(), opts.client())
	if err != nil {
		return err
	}
	opts.cfg.Token = resp.Token
	if err := opts.cfg.Save(opts.configPath); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logged in as %s\n", resp.User.Email)
	printCodes(out, resp.User.RevealCode, resp.User.DoctorCode)
	return nil
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg.Token = ""
			return opts.cfg.Save(opts.configPath)
		},
	}
}

func printCodes(w io.Writer, revealCode, doctorCode string) {
	fmt.Fprintf(w, "  reveal code: %s  (share with guests)\n", revealCode)
	fmt.Fprintf(w, "  doctor code: %s  (give to whoever sets the gender)\n", doctorCode)
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [CODE]",
		Short: "Show a reveal's status, or your own reveal when logged in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				if opts.cfg.Token == "" {
					return errors.New("not logged in: pass a reveal code or run revealctl login")
				}
				st, err := c.MyStatus(cmd.Context())
				if err != nil {
					return err
				}
				printMyStatus(out, st)
				return nil
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(out, st)
			return nil
		},
	}
}

func printMyStatus(w io.Writer, st *model.MyStatus) {
	printCodes(w, st.RevealCode, st.DoctorCode)
	fmt.Fprintf(w, "  gender set:  %s\n", yesNo(st.IsSet))
	fmt.Fprintf(w, "  revealed:    %s\n", yesNo(st.IsRevealed))
	fmt.Fprintf(w, "  password:    %s\n", yesNo(st.PasswordEnabled))
	fmt.Fprintf(w, "  synced:      %s (countdown %ds)\n", yesNo(st.Preferences.SyncedReveal), st.Preferences.CountdownDuration)
}

func printStatus(w io.Writer, st *model.StatusResponse) {
	switch {
	case st.IsDoctor:
		fmt.Fprintln(w, "This is a doctor link.")
		fmt.Fprintf(w, "  gender set:  %s\n", yesNo(st.IsSet))
		return
	case !st.IsSet:
		fmt.Fprintln(w, "The gender hasn't been set yet.")
	case st.RevealStartedAt != nil:
		fmt.Fprintf(w, "Revealed at %s\n", st.RevealStartedAt.Local().Format("15:04:05"))
	default:
		fmt.Fprintln(w, "Ready to reveal.")
	}
	fmt.Fprintf(w, "  watching:    %d\n", st.ViewerCount)
	fmt.Fprintf(w, "  password:    %s\n", yesNo(st.PasswordRequired))
	fmt.Fprintf(w, "  synced:      %s\n", yesNo(st.Preferences.SyncedReveal))
	if st.IsHost {
		fmt.Fprintln(w, "  you are the host")
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newSetGenderCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-gender DOCTOR_CODE boy|girl",
		Short: "Set the gender through a doctor link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := model.ParseGender(args[1])
			if err != nil {
				return err
			}
			if err := opts.client().SetGender(cmd.Context(), args[0], g); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Gender set. It can't be changed.")
			return nil
		},
	}
}
