package models

// Config is the on-disk lakedeploy configuration
type Config struct {
	Fabric      Fabric      `yaml:"fabric"`
	Auth        Auth        `yaml:"auth"`
	Lakehouses  Lakehouses  `yaml:"lakehouses"`
	Folders     []string    `yaml:"folders"`
	Artifacts   Artifacts   `yaml:"artifacts"`
	Notebooks   Notebooks   `yaml:"notebooks"`
	SampleData  SampleData  `yaml:"sample_data"`
	Reports     Reports     `yaml:"reports"`
	Environment Environment `yaml:"environment"`
	DataAgent   DataAgent   `yaml:"data_agent"`
	Databricks  Databricks  `yaml:"databricks"`
	Retry       Retry       `yaml:"retry"`
	Polling     Polling     `yaml:"polling"`
	RateLimit   RateLimit   `yaml:"rate_limit"`
	Logging     Logging     `yaml:"logging"`
	Steps       Steps       `yaml:"steps"`
}

// Fabric identifies the target capacity/workspace and the service endpoints
type Fabric struct {
	Capacity    string   `yaml:"capacity"`
	Workspace   string   `yaml:"workspace"`
	Description string   `yaml:"description"`
	Admins      []string `yaml:"admins"`
	APIURL      string   `yaml:"api_url"`
	OneLakeURL  string   `yaml:"onelake_url"`
	PowerBIURL  string   `yaml:"powerbi_url"`
	GraphURL    string   `yaml:"graph_url"`
}

// Auth selects how bearer tokens are obtained
type Auth struct {
	Mode     string `yaml:"mode"` // "cli", "service_principal", "token"
	TenantID string `yaml:"tenant_id"`
	ClientID string `yaml:"client_id"`
	TokenEnv string `yaml:"token_env"` // env var holding a pre-issued token in "token" mode
}

// Lakehouses names the three medallion tiers
type Lakehouses struct {
	Prefix        string `yaml:"prefix"`
	Bronze        string `yaml:"bronze"`
	Silver        string `yaml:"silver"`
	Gold          string `yaml:"gold"`
	Folder        string `yaml:"folder"`
	EnableSchemas bool   `yaml:"enable_schemas"`
}

// Artifacts locates notebooks, sample data, reports and other deployable content
type Artifacts struct {
	Source         string `yaml:"source"` // local directory or git URL
	Ref            string `yaml:"ref"`    // branch or tag when Source is a git URL
	NotebooksDir   string `yaml:"notebooks_dir"`
	DataDir        string `yaml:"data_dir"`
	ReportsDir     string `yaml:"reports_dir"`
	EnvironmentDir string `yaml:"environment_dir"`
	AgentDir       string `yaml:"agent_dir"`
}

// NotebookBinding attaches notebooks under Dir to a lakehouse tier
type NotebookBinding struct {
	Dir       string `yaml:"dir"`
	Lakehouse string `yaml:"lakehouse"` // "bronze", "silver" or "gold"
	Folder    string `yaml:"folder"`
}

// Notebooks controls notebook upload and execution
type Notebooks struct {
	Bindings   []NotebookBinding `yaml:"bindings"`
	Runners    []string          `yaml:"runners"`
	JobTimeout string            `yaml:"job_timeout"`
}

// SampleData controls where sample files land in the bronze lakehouse
type SampleData struct {
	TargetPath string `yaml:"target_path"`
}

// Reports controls Power BI report import
type Reports struct {
	Folder            string `yaml:"folder"`
	ServerParameter   string `yaml:"server_parameter"`
	DatabaseParameter string `yaml:"database_parameter"`
	Refresh           bool   `yaml:"refresh"`
}

// Environment controls the Spark environment item
type Environment struct {
	Name           string `yaml:"name"`
	PublishTimeout string `yaml:"publish_timeout"`
}

// DataAgent controls the data agent item. The step runs when the agent
// directory holds a definition.
type DataAgent struct {
	Name   string `yaml:"name"`
	Folder string `yaml:"folder"`
}

// Databricks enables the optional Azure Databricks catalog mirroring step
type Databricks struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Catalog      string `yaml:"catalog"`
	ConnectionID string `yaml:"connection_id"`
	ItemName     string `yaml:"item_name"`
}

// Retry mirrors errors.RetryConfig in serialisable form
type Retry struct {
	MaxRetries   int     `yaml:"max_retries"`
	InitialDelay string  `yaml:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
}

// Polling controls long-running operation polling
type Polling struct {
	Interval string `yaml:"interval"`
	Timeout  string `yaml:"timeout"`
}

// RateLimit caps outgoing request rate per service
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Logging configures the structured logger
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
	File   string `yaml:"file"`
}

// Steps selects which deployment steps run
type Steps struct {
	Skip []string `yaml:"skip"`
}
