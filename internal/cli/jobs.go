package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lessonforge/pkg/config"
	"lessonforge/pkg/persistence"
	"lessonforge/pkg/storage"
)

func newJobsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, inspect and queue videos in the storage database",
	}
	cmd.AddCommand(newJobsListCommand(root), newJobsShowCommand(root), newJobsSubmitCommand(root))
	return cmd
}

// openStorage opens the database without model clients; the jobs commands
// only read and write records.
func openStorage(configPath string) (*storage.Store, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return storage.New(db, nil, cfg.Storage.BlobDir), func() { _ = db.Close() }, nil
}

func newJobsListCommand(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := openStorage(root.configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			videos, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(videos) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no videos"))
				return nil
			}
			rows := make([][]string, 0, len(videos))
			for _, v := range videos {
				rows = append(rows, []string{
					v.ID,
					truncate(v.Topic, 40),
					v.Status,
					strconv.Itoa(v.SceneCount),
					v.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "TOPIC", "STATUS", "SCENES", "CREATED"}, rows, 2))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of videos to show")
	return cmd
}

func newJobsShowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one video and its scenes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStorage(root.configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			v, err := store.GetVideo(ctx, args[0])
			if err != nil {
				return err
			}
			scenes, err := store.Scenes(ctx, v.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(v.Topic))
			kv(out, "id", v.ID)
			kv(out, "status", statusStyle(v.Status).Render(v.Status))
			kv(out, "scenes", v.SceneCount)
			if v.CombinedURL != "" {
				kv(out, "video", v.CombinedURL)
			}
			if v.Error != "" {
				kv(out, "error", v.Error)
			}
			if len(scenes) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(scenes))
			for _, s := range scenes {
				rows = append(rows, []string{
					strconv.Itoa(s.SceneIndex),
					s.Status,
					strconv.Itoa(s.Attempts),
					s.VideoURL,
					truncate(s.Error, 60),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"SCENE", "STATUS", "ATTEMPTS", "VIDEO", "ERROR"}, rows, 1))
			return nil
		},
	}
}

func newJobsSubmitCommand(root *rootOptions) *cobra.Command {
	var (
		description string
		maxScenes   int
	)
	cmd := &cobra.Command{
		Use:   "submit <topic>",
		Short: "Queue a video for the worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			if topic == "" {
				return fmt.Errorf("topic must not be empty")
			}
			store, closeFn, err := openStorage(root.configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			id := uuid.NewString()
			if err := store.CreateVideo(cmd.Context(), storage.VideoRecord{
				ID:          id,
				Topic:       topic,
				Description: description,
				SceneCount:  maxScenes,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("queued"), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "context", "", "extra description of what the video should cover")
	cmd.Flags().IntVar(&maxScenes, "max-scenes", 5, "upper bound on the number of scenes")
	return cmd
}
