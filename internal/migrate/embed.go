package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Embedded returns the migrations and seeds compiled into the binary.
func Embedded() (migrations, seeds fs.FS) {
	m, err := fs.Sub(migrationFiles, "sql")
	if err != nil {
		panic(err)
	}
	s, err := fs.Sub(seedFiles, "seeds")
	if err != nil {
		panic(err)
	}
	return m, s
}
