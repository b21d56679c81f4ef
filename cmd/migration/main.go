package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/platform/config"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/store"
)

// CLI are the command line flags of the migration tool.
type CLI struct {
	File string `help:"The SQL file to execute." default:"database.sql" type:"existingfile"`
}

// Usage example on the command line:
// > DBHOST=localhost DBUSER=dirk DBPWD=bullo92 go run main.go --file=../../scripts/mysql.sql
// > DB_DRIVER=pgx DBHOST=localhost DBUSER=dirk DBPWD=bullo92 go run main.go --file=../../scripts/postgres.sql
func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kong.Description("Executes the statements of an SQL file on the contacts database."))
	kctx.FatalIfErrorf(run(cli))
}

func run(cli CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DBDriver == store.DriverMemory {
		return fmt.Errorf("nothing to migrate for driver %q", cfg.DBDriver)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DSN(), cfg.Pool())
	if err != nil {
		return err
	}
	defer db.Close()

	readFile, err := os.Open(cli.File) // nosemgrep
	if err != nil {
		return err
	}
	defer readFile.Close()

	fileScanner := bufio.NewScanner(readFile)
	fileScanner.Split(bufio.ScanLines)
	builder := strings.Builder{}
	for fileScanner.Scan() {
		line := fileScanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		builder.WriteString(line)
		builder.WriteString(" ")
		if strings.Contains(line, ";") {
			if _, err := db.ExecContext(ctx, builder.String()); err != nil {
				return fmt.Errorf("execute %q: %w", strings.TrimSpace(builder.String()), err)
			}
			builder = strings.Builder{}
		}
	}
	return fileScanner.Err()
}
