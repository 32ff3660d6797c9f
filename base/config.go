package base

import (
	"log/slog"
	"time"
)

// Config is the part of the runtime configuration that is safe to hand out to clients.
type Config struct {
	SolrEndpoint string `json:"solrEndpoint"`
	SolrIndex    string `json:"solrIndex"`
	AuthEnabled  bool   `json:"authEnabled"`
	EventsTopic  string `json:"eventsTopic,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
}

type AuthenticatedConfig struct {
	Config
	User  string `json:"authUser,omitempty"`
	Admin bool   `json:"authAdmin"`
}

var SolrEndpoint = EnvVar("SOLR_ENDPOINT", "http://localhost:8983")
var SolrIndex = EnvVar("SOLR_INDEX", "forum")
var SolrNumShards = EnvVarAsInt("SOLR_NUM_SHARDS", 1)
var SolrTimeout = EnvVarAsDuration("SOLR_TIMEOUT", 10*time.Second)

var ForumStore = EnvVar("FORUM_STORE", "mysql")
var ForumDSN = EnvVar("FORUM_DSN", "forum:forum@tcp(localhost:3306)/forum?parseTime=true")

var SettingsStore = EnvVar("SETTINGS_STORE", "bolt")
var SettingsPath = EnvVar("SETTINGS_PATH", "local/settings.db")

var RedisAddr = EnvVar("REDIS_ADDR", "localhost:6379")
var RedisPassword = EnvVar("REDIS_PASSWORD", "")
var RedisDB = EnvVarAsInt("REDIS_DB", 0)

var EventsEnabled = EnvVarAsBool("EVENTS_ENABLED", false)
var EventsTopic = EnvVar("EVENTS_TOPIC", "forum.events")
var EventsGroup = EnvVar("EVENTS_GROUP", "forum-search")

// var ReindexSchedule = EnvVar("CRON", "0 3 * * *") // every night at 3
var ReindexSchedule = EnvVar("CRON", "")
var ReindexBatchSize = EnvVarAsInt("REINDEX_BATCH_SIZE", 100)
var ReindexConcurrency = EnvVarAsInt("REINDEX_CONCURRENCY", 4)

var HookWorkers = EnvVarAsInt("HOOK_WORKERS", 4)
var HookQueueSize = EnvVarAsInt("HOOK_QUEUE_SIZE", 1024)
var HookRetries = EnvVarAsInt("HOOK_RETRIES", 3)
var HookToken = EnvVar("HOOK_TOKEN", "")

var CacheTTL = EnvVarAsDuration("CACHE_TTL", time.Minute)
var CacheMaxKeys = EnvVarAsInt("CACHE_MAX_KEYS", 1000)

var AdminGroup = EnvVar("ADMIN_GROUP", "administrators")

var Configuration = Config{
	SolrEndpoint: SolrEndpoint,
	SolrIndex:    SolrIndex,
	AuthEnabled:  !EnvVarAsBool("DISABLE_AUTH", false),
	EventsTopic:  EventsTopic,
	Schedule:     ReindexSchedule,
}

var logLevel = EnvVar("LOG_LEVEL", "INFO")

func init() {
	// set log level
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err == nil {
		slog.SetLogLoggerLevel(level)
	}
}
