package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/taskforge/internal/models"
)

var runUserID string

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Execute a single goal and wait for the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		goal := strings.Join(args, " ")
		now := time.Now().UTC()
		t := &models.Task{
			ID:        uuid.NewString(),
			UserID:    runUserID,
			Goal:      goal,
			Type:      models.TaskMixed,
			Status:    models.StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := rt.store.CreateTask(t); err != nil {
			return fmt.Errorf("create task: %w", err)
		}

		if err := rt.orch.Run(context.Background(), t.ID); err != nil {
			return err
		}

		done, err := rt.store.GetTask(t.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(done); err != nil {
			return err
		}
		if done.Status != models.StatusSucceeded {
			return fmt.Errorf("task %s: %s", done.Status, done.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runUserID, "user", "", "User id for quota accounting")
	rootCmd.AddCommand(runCmd)
}
