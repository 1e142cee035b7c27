package database

// Regenerating the schema snapshot and the sqlc query code:
//
//	go generate ./internal/database
//
// sqlc must be installed separately.

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
//go:generate sh -c "cd ../.. && sqlc generate -f internal/database/sqlc/sqlc.yaml"
