package config

const (
	defaultSourceRoot      = "./original_root"
	defaultArchiveRoot     = "./zip_root"
	defaultLogDir          = "~/.local/share/lidarscan/logs"
	defaultBackendURL      = "http://backend-internal/sqlite"
	defaultBackendTimeout  = 30
	defaultNamespace       = "default"
	defaultVolumeClaim     = "fts-addlidar"
	defaultParallelism     = 4
	defaultMarkerSuffix    = ".metacloud"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultMetricsJobName  = "lidarscan"
	defaultEventsSubject   = "lidarscan.dispatch"
	defaultServerBind      = "127.0.0.1:8090"
	defaultCompressionName = "addlidar-compression"
	defaultPotreeName      = "addlidar-potree-converter"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SourceRoot:  defaultSourceRoot,
			ArchiveRoot: defaultArchiveRoot,
			LogDir:      defaultLogDir,
		},
		Backend: Backend{
			URL:            defaultBackendURL,
			TimeoutSeconds: defaultBackendTimeout,
		},
		Cluster: Cluster{
			Namespace:   defaultNamespace,
			VolumeClaim: defaultVolumeClaim,
		},
		Jobs: Jobs{
			Parallelism:      defaultParallelism,
			CompressionImage: Image{Name: defaultCompressionName, Tag: "latest"},
			PotreeImage:      Image{Name: defaultPotreeName, Tag: "latest"},
		},
		Scan: Scan{
			MarkerSuffix: defaultMarkerSuffix,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			JobName: defaultMetricsJobName,
		},
		Events: Events{
			Subject: defaultEventsSubject,
		},
		Server: Server{
			Bind: defaultServerBind,
		},
	}
}
