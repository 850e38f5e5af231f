package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"umkmhub/services/app/internal/feed"
	"umkmhub/services/app/internal/session"
)

func newLoginCommand(configPath *string) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if password == "" {
				password = os.Getenv("UMKMHUB_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return err
				}
				password = strings.TrimSpace(line)
			}

			if _, err := rt.syn.SignIn(ctx, email, password); err != nil {
				return err
			}

			snap := rt.syn.Snapshot()
			name := email
			if snap.Profile != nil {
				name = snap.Profile.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selamat datang, %s!\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (falls back to UMKMHUB_PASSWORD, then a prompt)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.syn.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session and profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			snap := rt.syn.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:  %s\n", snap.Status)
			if snap.Session == nil {
				return nil
			}
			fmt.Fprintf(out, "User:    %s\n", snap.Session.UserID)
			if snap.Profile == nil {
				fmt.Fprintln(out, "Profile: (not loaded)")
				return nil
			}
			p := snap.Profile
			fmt.Fprintf(out, "Name:    %s\n", p.Name)
			fmt.Fprintf(out, "Email:   %s\n", p.Email)
			fmt.Fprintf(out, "Usaha:   %s (%s)\n", p.BusinessName, p.BusinessCategory)
			fmt.Fprintf(out, "Role:    %s\n", p.Role)
			fmt.Fprintf(out, "Wishlist: %d items, Following: %d, Unread: %d\n",
				rt.wishlist.Len(), rt.following.Len(), rt.feed.UnreadCount())
			return nil
		},
	}
}

func newProfileCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newProfileSetCommand(configPath))
	return cmd
}

func newProfileSetCommand(configPath *string) *cobra.Command {
	var (
		name, businessName, phone, address string
		category, website, avatar          string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields; unset flags are left unchanged",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}

			patch := session.Patch{}
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("business-name") {
				patch.BusinessName = &businessName
			}
			if flags.Changed("phone") {
				patch.PhoneNumber = &phone
			}
			if flags.Changed("address") {
				patch.Address = &address
			}
			if flags.Changed("category") {
				patch.BusinessCategory = &category
			}
			if flags.Changed("website") {
				patch.Website = &website
			}
			if flags.Changed("avatar") {
				patch.ProfilePicture = &avatar
			}

			if err := rt.syn.UpdateProfile(ctx, patch); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile updated.")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&businessName, "business-name", "", "Business name")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&address, "address", "", "Address")
	cmd.Flags().StringVar(&category, "category", "", "Business category")
	cmd.Flags().StringVar(&website, "website", "", "Website URL")
	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar URL")
	return cmd
}

func newWishlistCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wishlist",
		Short: "Wishlist operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List wishlisted product ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}
			for _, id := range rt.wishlist.Members() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the wishlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}
			rt.wishlist.Add(ctx, args[0])
			rt.wishlist.Flush()
			return reportWriteFailures(rt)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a product from the wishlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}
			rt.wishlist.Remove(ctx, args[0])
			rt.wishlist.Flush()
			return reportWriteFailures(rt)
		},
	})

	return cmd
}

func newFollowCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <seller-id>",
		Short: "Follow a seller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}
			rt.following.Add(ctx, args[0])
			rt.following.Flush()
			return reportWriteFailures(rt)
		},
	}
}

func newUnfollowCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <seller-id>",
		Short: "Unfollow a seller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}
			rt.following.Remove(ctx, args[0])
			rt.following.Flush()
			return reportWriteFailures(rt)
		},
	}
}

func newNotificationsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Notification feed operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}

			items, err := rt.feed.FetchRecent(ctx, limit)
			if err != nil {
				return err
			}
			for _, n := range items {
				printNotification(cmd, n)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum notifications to show")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "read",
		Short: "Mark all notifications as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}
			return rt.feed.MarkAllRead(ctx)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Stream notifications as they arrive (Ctrl-C to stop)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if _, err := rt.requireAuthenticated(); err != nil {
				return err
			}

			unsub := rt.feed.SubscribeNew(func(n feed.Notification) {
				printNotification(cmd, n)
			})
			defer unsub()

			fmt.Fprintln(cmd.OutOrStdout(), "Watching for notifications...")
			<-ctx.Done()
			return nil
		},
	})

	return cmd
}

func printNotification(cmd *cobra.Command, n feed.Notification) {
	marker := " "
	if !n.Read {
		marker = "*"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s - %s (%s)\n", marker, n.Kind, n.Title, n.Description, n.Age)
}

func reportWriteFailures(rt *runtime) error {
	failures := append(rt.wishlist.Failures(), rt.following.Failures()...)
	if len(failures) == 0 {
		return nil
	}
	last := failures[len(failures)-1]
	return errors.New("sync failed: " + last.Err.Error())
}
