package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"inkwell.org/internal/migrate"
	"inkwell.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("INKWELL_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or INKWELL_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|force <version>]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	migrations, seeds := migrate.Embedded()
	mgr, err := migrate.NewManager(store.DB(), *dsn, migrations, seeds)
	if err != nil {
		log.Fatal(err)
	}

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "force":
		version, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			log.Fatalf("force needs a version: %v", convErr)
		}
		err = mgr.Force(ctx, version)
	case "status":
		var st migrate.Status
		st, err = mgr.Status(ctx)
		if err == nil {
			fmt.Printf("version %d dirty=%t\n", st.Version, st.Dirty)
			for _, name := range st.Pending {
				fmt.Println("pending", name)
			}
			for _, name := range st.Seeds {
				fmt.Println("seeded ", name)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
