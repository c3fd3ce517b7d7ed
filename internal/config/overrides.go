package config

// Overrides carries command-line values that win over the file. Nil fields
// leave the file value untouched.
type Overrides struct {
	SourceRoot  *string
	ArchiveRoot *string
	BackendURL  *string
	StateDB     *string
	VolumeClaim *string
	Namespace   *string
	Kubeconfig  *string
	MaxJobs     *int
	Parallelism *int
	LogLevel    *string
	LogFormat   *string
}

// Apply layers o onto c and re-runs normalization and validation.
func (c *Config) Apply(o Overrides) error {
	setString(&c.Paths.SourceRoot, o.SourceRoot)
	setString(&c.Paths.ArchiveRoot, o.ArchiveRoot)
	setString(&c.Backend.URL, o.BackendURL)
	setString(&c.Paths.StateDB, o.StateDB)
	setString(&c.Cluster.VolumeClaim, o.VolumeClaim)
	setString(&c.Cluster.Namespace, o.Namespace)
	setString(&c.Cluster.Kubeconfig, o.Kubeconfig)
	setString(&c.Logging.Level, o.LogLevel)
	setString(&c.Logging.Format, o.LogFormat)
	if o.MaxJobs != nil {
		c.Jobs.MaxJobs = *o.MaxJobs
	}
	if o.Parallelism != nil {
		c.Jobs.Parallelism = *o.Parallelism
	}
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = *value
	}
}
