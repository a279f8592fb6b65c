package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/paulboul1013/tinytable/internal/backend"
	"github.com/paulboul1013/tinytable/internal/storage"
	"github.com/paulboul1013/tinytable/tsql"
)

// Config describes the configuration for the database
type Config struct {
	Path               string `yaml:"path"`
	LogLevel           string `yaml:"log_level"`
	StatementCacheSize int64  `yaml:"statement_cache_size"`
}

type ReplCommand struct {
	ShutDownCh <-chan struct{}
}

func (c *ReplCommand) Help() string {
	helpText := `
Usage: tinytable repl [options]

Options:

	-config=""	Database configuration file
	-db=""		Database file path (overrides config)
`

	return strings.TrimSpace(helpText)
}

func (c *ReplCommand) Synopsis() string {
	return "Starts an interactive session against the database"
}

func (c *ReplCommand) Run(args []string) int {
	var configPath string
	var dbPath string

	cmdFlags := flag.NewFlagSet("repl", flag.ExitOnError)
	cmdFlags.StringVar(&configPath, "config", "", "config file")
	cmdFlags.StringVar(&dbPath, "db", "", "database file")

	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	config := Config{Path: "tinytable.db", LogLevel: "info"}
	if configPath != "" {
		configFile, err := os.Open(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error opening config file: %s\n", err.Error())
			return 1
		}
		err = yaml.NewDecoder(configFile).Decode(&config)
		configFile.Close()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error parsing config file: %s\n", err.Error())
			return 1
		}
	}
	if dbPath != "" {
		config.Path = dbPath
	}

	logger := log.New()
	if level, err := log.ParseLevel(config.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	table, err := backend.Open(logger, config.Path)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err.Error())
		return 1
	}

	session, err := backend.NewSession(table, config.StatementCacheSize)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error creating session: %s\n", err.Error())
		_ = table.Close()
		return 1
	}
	defer session.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "db > ",
		HistoryFile: os.TempDir() + "/.tinytable_history",
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error starting readline: %s\n", err.Error())
		_ = table.Close()
		return 1
	}
	defer rl.Close()

	for {
		select {
		case <-c.ShutDownCh:
			return c.close(table)
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return c.close(table)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if done := c.metaCommand(table, line); done {
				return c.close(table)
			}
			continue
		}

		c.execute(session, table, line)
	}
}

func (c *ReplCommand) close(table *backend.Table) int {
	if err := table.Close(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error closing database: %s\n", err.Error())
		return 1
	}
	return 0
}

// metaCommand handles dot commands; returns true on .exit.
func (c *ReplCommand) metaCommand(table *backend.Table, line string) bool {
	switch line {
	case ".exit":
		return true

	case ".btree":
		fmt.Println("Tree:")
		rendered, err := table.Tree().Print()
		if err != nil {
			fmt.Printf("Error: %s\n", err.Error())
			return false
		}
		fmt.Print(rendered)

	case ".constants":
		fmt.Println("Constants:")
		printConstants()

	case ".stats":
		stats := table.Stats()
		if stats.Valid {
			fmt.Println("Table Statistics:")
			fmt.Println(stats.String())
		} else {
			fmt.Println("Statistics not available. Run ANALYZE to collect statistics.")
		}

	default:
		fmt.Printf("Unrecognized command '%s'\n", line)
	}
	return false
}

func (c *ReplCommand) execute(session *backend.Session, table *backend.Table, line string) {
	stmt, err := session.Prepare(line)
	if err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		return
	}

	rows, err := table.Execute(stmt)
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrDuplicateKey):
			fmt.Println("Error: Duplicate key.")
		case errors.Is(err, backend.ErrKeyNotFound):
			fmt.Println("Error: Key not found.")
		case errors.Is(err, backend.ErrTableFull):
			fmt.Println("Error: Table full.")
		default:
			fmt.Printf("Error: %s\n", err.Error())
		}
		return
	}

	switch stmt.Kind {
	case tsql.StatementSelect:
		for rows.Next() {
			row := rows.Row()
			fmt.Println(row.String())
		}
		if err := rows.Err(); err != nil {
			fmt.Printf("Error: %s\n", err.Error())
			return
		}
		fmt.Println("Executed.")

	case tsql.StatementBegin:
		fmt.Println("Transaction started.")

	case tsql.StatementCommit:
		fmt.Println("Transaction committed.")

	case tsql.StatementRollback:
		fmt.Println("Transaction rolled back.")

	case tsql.StatementAnalyze:
		stats := table.Stats()
		fmt.Println("Statistics updated successfully.")
		fmt.Println(stats.String())

	default:
		fmt.Println("Executed.")
	}
}

func printConstants() {
	fmt.Printf("ROW_SIZE: %d\n", storage.RowSize)
	fmt.Printf("COMMON_NODE_HEADER_SIZE: %d\n", storage.CommonHeaderSize)
	fmt.Printf("LEAF_NODE_HEADER_SIZE: %d\n", storage.LeafHeaderSize)
	fmt.Printf("LEAF_NODE_CELL_SIZE: %d\n", storage.LeafCellSize)
	fmt.Printf("LEAF_NODE_SPACE_FOR_CELLS: %d\n", storage.LeafSpaceForCells)
	fmt.Printf("LEAF_NODE_MAX_CELLS: %d\n", storage.LeafMaxCells)
	fmt.Printf("INTERNAL_NODE_HEADER_SIZE: %d\n", storage.InternalHeaderSize)
	fmt.Printf("INTERNAL_NODE_CELL_SIZE: %d\n", storage.InternalCellSize)
	fmt.Printf("INTERNAL_NODE_MAX_CELLS: %d\n", storage.InternalMaxCells)
}
