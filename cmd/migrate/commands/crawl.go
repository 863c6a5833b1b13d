package commands

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	crawlResolve bool
	crawlRefresh bool
)

func init() {
	crawlCmd.Flags().BoolVar(&crawlResolve, "resolve", false, "Visit every post page to find its video.")
	crawlCmd.Flags().BoolVar(&crawlRefresh, "refresh", false, "Drop the cached pages of the courses first.")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [course id...]",
	Short: "Prints the post tree of courses without migrating anything.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		session, err := openSession(ctx, false)
		if err != nil {
			fatal("failed to open kartra session, run login first", err)
		}
		defer session.Close()
		crawler := newCrawler(session)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		header := table.Row{"Course", "Post", "Category", "Subcategory", "Name"}
		if crawlResolve {
			header = append(header, "Video")
		}
		t.AppendHeader(header)

		for _, course := range cfg.courses(args) {
			if crawlRefresh {
				err := session.Invalidate(course.ID)
				if err != nil {
					slog.Warn("failed to drop cached pages", "course", course.ID, "err", err)
				}
			}

			posts, err := crawler.Discover(ctx, course.ID)
			if err != nil {
				slog.Error("failed to discover course", "course", course.ID, "err", err)
				continue
			}
			for _, post := range posts {
				subcategory := post.Subcategory
				if post.SubcategoryID > 0 {
					subcategory += " (" + strconv.Itoa(post.SubcategoryID) + ")"
				}
				row := table.Row{course.ID, post.ID, post.Category, subcategory, post.Name}
				if crawlResolve {
					resolved, found, err := crawler.Resolve(ctx, post)
					switch {
					case err != nil:
						row = append(row, "error: "+err.Error())
					case !found:
						row = append(row, "not found")
					default:
						row[2], row[3], row[4] = resolved.Category, resolved.Subcategory, resolved.Name
						row = append(row, resolved.VideoID)
					}
				}
				t.AppendRow(row)
			}
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
