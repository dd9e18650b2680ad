package config

const (
	defaultDataDir             = "~/.local/share/tessera"
	defaultLogDir              = "~/.local/share/tessera/logs"
	defaultStoreBackend        = "fs"
	defaultStoreRootDir        = "~/.local/share/tessera/objects"
	defaultStoreBucket         = "TESSERA_OBJECTS"
	defaultAIBaseURL           = "https://api.openai.com/v1"
	defaultAIEmbedModel        = "text-embedding-3-small"
	defaultAIGenerateModel     = "gpt-4o-mini"
	defaultAITimeoutSeconds    = 60
	defaultAIRequestsPerSecond = 4.0
	defaultWorkers             = 4
	defaultRetryCeiling        = 3
	defaultRunTimeoutSeconds   = 1800
	defaultItemTimeoutSeconds  = 120
	defaultClusterStrategy     = "strategyA"
	defaultScheduleHours       = 24
	defaultLinkerTopK          = 5
	defaultLinkerMinScore      = 0.5
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "auto"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			Backend: defaultStoreBackend,
			RootDir: defaultStoreRootDir,
			Bucket:  defaultStoreBucket,
		},
		AI: AI{
			BaseURL:           defaultAIBaseURL,
			EmbedModel:        defaultAIEmbedModel,
			GenerateModel:     defaultAIGenerateModel,
			TimeoutSeconds:    defaultAITimeoutSeconds,
			RequestsPerSecond: defaultAIRequestsPerSecond,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			RetryCeiling:       defaultRetryCeiling,
			RunTimeoutSeconds:  defaultRunTimeoutSeconds,
			ItemTimeoutSeconds: defaultItemTimeoutSeconds,
			ClusterStrategy:    defaultClusterStrategy,
			ScheduleHours:      defaultScheduleHours,
		},
		Linker: Linker{
			TopK:     defaultLinkerTopK,
			MinScore: defaultLinkerMinScore,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
