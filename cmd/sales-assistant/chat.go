package main

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/format"
	"sales-assistant/internal/orchestrator"
)

func newChatCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// keep logs off the conversation unless asked for
			log := logger.NewStructured("warn", "console", "stderr")
			if verbose {
				log = logger.NewStructured(cfg.Logging.Level, "console", "stderr")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := buildStack(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			s.startBackground(ctx)

			conversationID := "cli-" + uuid.NewString()
			pterm.DefaultHeader.WithFullWidth().Println("Sales Assistant")
			pterm.Println(pterm.NewStyle(pterm.FgGray).Sprint("Ask about sales, e.g. \"top salesperson this month\". Type \"exit\" to quit."))
			pterm.Println()

			lines := make(chan string)
			go readLines(os.Stdin, lines)

			for {
				pterm.Print(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint("you › "))
				var line string
				select {
				case <-ctx.Done():
					pterm.Println()
					return nil
				case l, ok := <-lines:
					if !ok {
						pterm.Println()
						return nil
					}
					line = strings.TrimSpace(l)
				}
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				resp, err := s.orchestrator.ProcessTurn(ctx, conversationID, line, time.Now())
				printResponse(resp, err)
			}
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level to stderr")
	return cmd
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func printResponse(resp orchestrator.Response, err error) {
	label := pterm.NewStyle(pterm.FgGreen, pterm.Bold).Sprint("assistant › ")
	if err != nil {
		label = pterm.NewStyle(pterm.FgYellow, pterm.Bold).Sprint("assistant › ")
	}
	pterm.Println(label + resp.Text)
	if resp.Table != nil && len(resp.Table.Rows) > 0 {
		pterm.Println()
		if err := pterm.DefaultTable.WithHasHeader().WithData(tableData(resp.Table)).Render(); err != nil {
			pterm.Println(resp.Table.Markdown())
		}
	}
	pterm.Println()
}

func tableData(t *format.Table) pterm.TableData {
	data := make(pterm.TableData, 0, len(t.Rows)+1)
	data = append(data, t.Columns)
	data = append(data, t.Rows...)
	return data
}
