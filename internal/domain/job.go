package domain

// JobDefinition describes one recurring sync task for one banking data source.
type JobDefinition struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`

	// IdentitySourceKey names the configuration value holding the
	// institution identifier passed to the job as NORDIGEN_BANKID.
	IdentitySourceKey string `yaml:"identity_key" json:"identity_key"`

	// AccountMapSourceKey names the configuration value holding the
	// account-to-ledger mapping passed to the job as YNAB_ACCOUNTMAP.
	AccountMapSourceKey string `yaml:"account_map_key" json:"account_map_key"`

	Schedule Schedule `yaml:"schedule" json:"schedule"`

	// Overrides replace shared environment values for this job only.
	Overrides map[string]string `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}
