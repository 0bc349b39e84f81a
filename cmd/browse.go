package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gridcat/internal/config"
	"gridcat/internal/domain"
	"gridcat/internal/source"
	"gridcat/internal/viewer"
)

// consoleEmitter forwards settled status events to the REPL loop and
// announces external mutations as they happen. Loading events are dropped:
// the console has no spinner to drive.
type consoleEmitter struct {
	settled chan viewer.StatusEvent
}

func (e *consoleEmitter) Emit(event string, data any) {
	switch ev := data.(type) {
	case viewer.StatusEvent:
		if ev.Status == domain.StatusLoading {
			return
		}
		select {
		case e.settled <- ev:
		default:
		}
	case viewer.MutatedEvent:
		fmt.Printf("\n%s changed on disk — press r to reload\n> ", ev.Source)
	}
}

func runBrowse(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	location := args[0]

	catalog, err := source.OpenCatalog(location)
	if err != nil {
		return err
	}
	defer catalog.Close()

	ctx := context.Background()
	tables, err := catalog.Tables(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return fmt.Errorf("no tables found in %s", location)
	}

	table := flagTable
	if table == "" {
		table = tables[0]
	}
	src, err := catalog.Open(table)
	if err != nil {
		return err
	}

	pageSize := cfg.DefaultPageSize
	if flagPageSize > 0 {
		pageSize = flagPageSize
	}

	emitter := &consoleEmitter{settled: make(chan viewer.StatusEvent, 8)}
	v := viewer.New(viewer.Options{
		PageSize: pageSize,
		Workers:  cfg.Workers,
		Cache:    viewer.NewPageCache(cfg.CacheCapacity),
		Emitter:  emitter,
	})
	defer v.Close()

	// File-backed locations get a mutation watcher; DSNs have no file to
	// watch.
	if !strings.Contains(location, "://") {
		if w, err := source.NewWatcher(); err == nil {
			defer w.Close()
			_ = w.Watch(location, func(string) { v.OnSourceMutated() })
		}
	}

	if err := v.SwitchSource(src); err != nil {
		return err
	}
	render(v, waitSettled(emitter))

	return repl(catalog, v, emitter, cfg)
}

func waitSettled(e *consoleEmitter) *viewer.StatusEvent {
	select {
	case ev := <-e.settled:
		return &ev
	case <-time.After(60 * time.Second):
		return nil
	}
}

func repl(catalog source.Catalog, v *viewer.Viewer, emitter *consoleEmitter, cfg *config.Config) error {
	fmt.Println(`commands: n(ext) p(rev) g <page> z <size> s <col> [asc|desc] u(nsort) /<query> t <table> tables r(efresh) q(uit)`)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if err := v.SetFilter(strings.TrimPrefix(line, "/")); err != nil {
				fmt.Println(err)
				continue
			}
			render(v, waitSettled(emitter))
			continue
		}

		fields := strings.Fields(line)
		var err error
		settle := true
		switch fields[0] {
		case "q", "quit", "exit":
			return nil
		case "n", "next":
			err = v.NextPage()
		case "p", "prev":
			err = v.PrevPage()
		case "g", "goto":
			var page int
			if page, err = intArg(fields, 1); err == nil {
				err = v.GoToPage(page - 1) // 1-based for humans
			}
		case "z", "size":
			var size int
			if size, err = intArg(fields, 1); err == nil {
				if !cfg.AllowsPageSize(size) {
					err = fmt.Errorf("unsupported page size %d", size)
				} else {
					err = v.SetPageSize(size)
				}
			}
		case "s", "sort":
			var col int
			if col, err = intArg(fields, 1); err == nil {
				dir := domain.SortAscending
				if len(fields) > 2 && strings.HasPrefix(fields[2], "d") {
					dir = domain.SortDescending
				}
				err = v.SetSort(col, dir)
			}
		case "u", "unsort":
			err = v.ClearSort()
		case "r", "refresh":
			err = v.Refresh()
		case "t", "table":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: t <table>")
			} else {
				var src source.TabularSource
				if src, err = catalog.Open(fields[1]); err == nil {
					err = v.SwitchSource(src)
				}
			}
		case "tables":
			settle = false
			names, lerr := catalog.Tables(context.Background())
			if lerr != nil {
				err = lerr
			} else {
				for _, name := range names {
					fmt.Println(name)
				}
			}
		default:
			settle = false
			fmt.Printf("unknown command %q\n", fields[0])
		}

		if err != nil {
			fmt.Println(err)
			continue
		}
		if settle {
			render(v, waitSettled(emitter))
		}
	}
}

func intArg(fields []string, idx int) (int, error) {
	if idx >= len(fields) {
		return 0, fmt.Errorf("missing argument")
	}
	n, err := strconv.Atoi(fields[idx])
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", fields[idx])
	}
	return n, nil
}

// render prints the committed page. On error the last good page stays on
// screen and only the indicator line changes.
func render(v *viewer.Viewer, ev *viewer.StatusEvent) {
	if ev == nil {
		fmt.Println("still loading...")
		return
	}
	if ev.Status == domain.StatusError {
		fmt.Printf("error: %s", ev.Cause)
		if ev.Retryable {
			fmt.Print(" (press r to retry)")
		}
		fmt.Println()
		return
	}
	res := ev.Result
	if res == nil {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	headers := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		headers[i] = col.Name
		if !res.Request.Sort.IsNone() && res.Request.Sort.Column == i {
			if res.Request.Sort.Direction == domain.SortAscending {
				headers[i] += " ^"
			} else {
				headers[i] += " v"
			}
		}
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if cell == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", cell)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()

	fmt.Printf("page %d of %d — %d rows", res.Request.Page+1, ev.PageCount, res.TotalRows)
	if res.Request.Filter != "" {
		fmt.Printf(" (filter: %q)", res.Request.Filter)
	}
	fmt.Println()
}
