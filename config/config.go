package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"trellis-api"`
	Port                          int      `env:"PORT" env-default:"3008"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"trellis"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// QuickBooks Web Connector
	QBWCUsername        string `env:"QBWC_USERNAME" env-default:""`
	QBWCPassword        string `env:"QBWC_PASSWORD" env-default:""`
	QBWCCompanyFile     string `env:"QBWC_COMPANY_FILE" env-default:""` // empty means "currently open company file"
	QBXMLVersionMajor   int    `env:"QBXML_VERSION_MAJOR" env-default:"13"`
	QBXMLVersionMinor   int    `env:"QBXML_VERSION_MINOR" env-default:"0"`
	QBPageSize          int    `env:"QB_PAGE_SIZE" env-default:"100"`
	QBActiveOnly        bool   `env:"QB_ACTIVE_ONLY" env-default:"true"`
	QBModifiedSinceDays int    `env:"QB_MODIFIED_SINCE_DAYS" env-default:"0"` // 0 disables the watermark filter

	// Feature flags, one per sync phase
	QBCompanyProbeEnabled   bool `env:"QB_COMPANY_PROBE_ENABLED" env-default:"true"`
	QBInventoryEnabled      bool `env:"QB_INVENTORY_ENABLED" env-default:"true"`
	QBServiceItemsEnabled   bool `env:"QB_SERVICE_ITEMS_ENABLED" env-default:"true"`
	QBNonInventoryEnabled   bool `env:"QB_NON_INVENTORY_ENABLED" env-default:"true"`
	QBOtherChargeEnabled    bool `env:"QB_OTHER_CHARGE_ENABLED" env-default:"true"`
	QBSalesTaxItemsEnabled  bool `env:"QB_SALES_TAX_ITEMS_ENABLED" env-default:"true"`
	QBSalesTaxGroupsEnabled bool `env:"QB_SALES_TAX_GROUPS_ENABLED" env-default:"true"`
	QBCustomersEnabled      bool `env:"QB_CUSTOMERS_ENABLED" env-default:"true"`

	// Session registry
	SessionTTL           time.Duration `env:"SESSION_TTL" env-default:"30m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" env-default:"5m"`

	// Audit log
	AuditPayloadMaxBytes int `env:"AUDIT_PAYLOAD_MAX_BYTES" env-default:"131072"` // 128KB

	// Invoice snapshot
	TaxRate            float64 `env:"INVOICE_TAX_RATE" env-default:"0.13"`
	TaxItemName        string  `env:"INVOICE_TAX_ITEM_NAME" env-default:""`
	FallbackItemListID string  `env:"INVOICE_FALLBACK_ITEM_LIST_ID" env-default:""`

	// Kafka Producer
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"invoice-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
}
