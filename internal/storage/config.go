package storage

import "os"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
	DynamoModeNone  DynamoMode = "none"
)

// DynamoConfig holds DynamoDB configuration for the session archive
type DynamoConfig struct {
	Mode            DynamoMode
	Endpoint        string // for local mode
	Region          string
	SessionsTable   string
	AgentDailyTable string
}

// LoadDynamoConfig loads DynamoDB config from environment
func LoadDynamoConfig() DynamoConfig {
	mode := DynamoMode(getEnv("DYNAMO_MODE", "none"))
	if mode != DynamoModeLocal && mode != DynamoModeAWS {
		mode = DynamoModeNone
	}

	return DynamoConfig{
		Mode:            mode,
		Endpoint:        getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:          getEnv("DYNAMO_REGION", "eu-central-1"),
		SessionsTable:   getEnv("DYNAMO_SESSIONS_TABLE", "handoff-session-records"),
		AgentDailyTable: getEnv("DYNAMO_AGENT_DAILY_TABLE", "handoff-agent-daily-stats"),
	}
}

// SQLConfig selects the relational backend for live sessions
type SQLConfig struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// LoadSQLConfig loads the session database config from environment
func LoadSQLConfig() SQLConfig {
	driver := getEnv("DB_DRIVER", DriverSQLite)
	if driver == "postgresql" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres {
		driver = DriverSQLite
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" && driver == DriverSQLite {
		dsn = getEnv("SQLITE_PATH", "data/handoff.db")
	}

	return SQLConfig{Driver: driver, DSN: dsn}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
