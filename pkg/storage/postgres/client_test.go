package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/turnmem-go/pkg/storage"
	postgresStore "github.com/oceanbase/turnmem-go/pkg/storage/postgres"
	"github.com/oceanbase/turnmem-go/pkg/storage/storagetest"
)

func testConfig(t *testing.T) *postgresStore.Config {
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := 5432
	if p := os.Getenv("POSTGRES_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT: %s", p)
		}
		port = n
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	dbName := os.Getenv("POSTGRES_DATABASE")
	if dbName == "" {
		dbName = "turnmem_test"
	}

	return &postgresStore.Config{
		Host:           host,
		Port:           port,
		User:           user,
		Password:       password,
		DBName:         dbName,
		CollectionName: "turnmem_test_memories",
		SSLMode:        os.Getenv("POSTGRES_SSLMODE"),
	}
}

func TestPostgresClient(t *testing.T) {
	cfg := testConfig(t)

	storagetest.Run(t, func(t *testing.T) storage.Store {
		client, err := postgresStore.NewClient(cfg)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: %v", err)
		}
		for _, user := range []string{"alice", "bob", "carol"} {
			require.NoError(t, client.DeleteAll(context.Background(), user))
		}
		return client
	})
}
