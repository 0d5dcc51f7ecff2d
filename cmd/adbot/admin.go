package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"admin-activead/internal/cfg"
	"admin-activead/internal/db"
	"admin-activead/internal/scheduler"

	"github.com/spf13/cobra"
)

// Offline maintenance commands. They open the database directly and act
// without an actor, so their audit records carry a NULL user.

var adminsCmd = &cobra.Command{
	Use:   "admins",
	Short: "Manage bot administrators",
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel scheduled blocks",
}

func init() {
	adminsCmd.AddCommand(&cobra.Command{
		Use:   "add <telegram-id>",
		Short: "Grant admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, store *db.DB) error {
				uid, err := parseID(args[0])
				if err != nil {
					return err
				}
				added, err := store.AddAdmin(ctx, uid, 0)
				if err != nil {
					return err
				}
				if added {
					fmt.Printf("added admin %d\n", uid)
				} else {
					fmt.Printf("%d is already an admin\n", uid)
				}
				return nil
			})
		},
	})

	adminsCmd.AddCommand(&cobra.Command{
		Use:   "remove <telegram-id>",
		Short: "Revoke admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, store *db.DB) error {
				uid, err := parseID(args[0])
				if err != nil {
					return err
				}
				removed, err := store.RemoveAdmin(ctx, uid, 0)
				if err != nil {
					return err
				}
				if removed {
					fmt.Printf("removed admin %d\n", uid)
				} else {
					fmt.Printf("%d is not an admin\n", uid)
				}
				return nil
			})
		},
	})

	adminsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, store *db.DB) error {
				ids, err := store.ListAdmins(ctx, 0)
				if err != nil {
					return err
				}
				if super := store.SuperAdminID(); super != 0 {
					fmt.Printf("%d (superadmin)\n", super)
				}
				if len(ids) == 0 {
					fmt.Println("(no admins)")
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			})
		},
	})

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, store *db.DB) error {
				jobs, err := store.ScheduledJobs(ctx)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("(no scheduled jobs)")
					return nil
				}
				for _, j := range jobs {
					fmt.Printf("#%d  %s  %-20s  %s  by %d\n",
						j.ID, j.Type, j.SAM, j.RunAt.In(store.Location()).Format("2006-01-02 15:04 MST"), j.CreatedBy)
				}
				return nil
			})
		},
	})

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a scheduled block",
		Long:  "Cancel a scheduled block. A running bot skips the job when its timer fires.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, store *db.DB) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				job, err := scheduler.New(store, nil, store.Location(), nil).Cancel(ctx, id, 0)
				if err != nil {
					return err
				}
				fmt.Printf("cancelled job #%d (%s)\n", job.ID, job.SAM)
				return nil
			})
		},
	})
}

func withDB(ctx context.Context, fn func(context.Context, *db.DB) error) error {
	c, err := cfg.LoadStorage()
	if err != nil {
		return err
	}
	_, _ = setupLogging(c.LogLevel, "")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := db.Open(c.DBPath, c.Location, c.SuperAdminID)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
