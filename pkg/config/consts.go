package config

// EnvPrefix is passed to envconfig; individual fields carry their full names.
const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "SHOWBILL_APP_ENV"
	EnvPort     = "SHOWBILL_APP_PORT"
	EnvDBDSN    = "SHOWBILL_DB_DSN"
	EnvDBHost   = "SHOWBILL_DB_HOST"
	EnvDBUser   = "SHOWBILL_DB_USER"
	EnvDBName   = "SHOWBILL_DB_NAME"
	EnvRedisURL = "SHOWBILL_REDIS_URL"

	EnvSumUpClientID     = "SHOWBILL_SUMUP_CLIENT_ID"
	EnvSumUpClientSecret = "SHOWBILL_SUMUP_CLIENT_SECRET"

	EnvGCPProjectID         = "SHOWBILL_GCP_PROJECT_ID"
	EnvPubSubDomainTopic    = "SHOWBILL_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub      = "SHOWBILL_PUBSUB_DOMAIN_SUBSCRIPTION"
	EnvPlatformMerchantCode = "SHOWBILL_PAYMENTS_PLATFORM_MERCHANT_CODE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
