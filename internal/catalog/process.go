package catalog

import (
	"maps"
	"slices"
	"time"
)

// ConnectionDetails are the settings to reach any data source or storage.
type ConnectionDetails struct {
	// E.g. "S3", "database", "api".
	Type string `json:"type" yaml:"type"`
	// Name of the bucket, database, endpoint, etc.
	Identifier  string            `json:"identifier" yaml:"identifier"`
	Credentials map[string]string `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	// Any other necessary configuration.
	AdditionalConfig map[string]Value `json:"additional_config,omitempty" yaml:"additional_config,omitempty"`
}

type Source struct {
	ID         string            `json:"source_id" yaml:"source_id"`
	Connection ConnectionDetails `json:"connection_details" yaml:"connection_details"`
	// E.g. "csv", "json", "parquet".
	DataFormat string `json:"data_format,omitempty" yaml:"data_format,omitempty"`
	// E.g. "full", "incremental".
	ExtractionMethod string `json:"extraction_method,omitempty" yaml:"extraction_method,omitempty"`
	// SQL query, API endpoint, etc.
	ExtractionQuery string `json:"extraction_query,omitempty" yaml:"extraction_query,omitempty"`
}

type Transformation struct {
	ID          string `json:"transformation_id" yaml:"transformation_id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Reference to a transformation script or function.
	Logic string `json:"logic,omitempty" yaml:"logic,omitempty"`
	// IDs of transformations of the same process this one depends on.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

type Destination struct {
	ID         string            `json:"destination_id" yaml:"destination_id"`
	Connection ConnectionDetails `json:"connection_details" yaml:"connection_details"`
	DataFormat string            `json:"data_format,omitempty" yaml:"data_format,omitempty"`
}

type Lifecycle struct {
	// E.g. "raw", "transformed", "aggregated".
	Stage             string   `json:"stage,omitempty" yaml:"stage,omitempty"`
	RetentionPolicy   string   `json:"retention_policy,omitempty" yaml:"retention_policy,omitempty"`
	ArchivalDetails   string   `json:"archival_details,omitempty" yaml:"archival_details,omitempty"`
	AccessPermissions []string `json:"access_permissions,omitempty" yaml:"access_permissions,omitempty"`
}

type JobControl struct {
	JobID string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	// Cron expression for job scheduling.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	// IDs of jobs this one depends on. Not resolved by the catalog.
	Dependencies  []string         `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	AlertingRules map[string]Value `json:"alerting_rules,omitempty" yaml:"alerting_rules,omitempty"`
}

type QualityValidation struct {
	Checks          map[string]Value   `json:"checks,omitempty" yaml:"checks,omitempty"`
	Thresholds      map[string]float64 `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	ValidationRules map[string]Value   `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
}

type Audit struct {
	Timestamps map[string]time.Time `json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
	UserInfo   map[string]Value     `json:"user_info,omitempty" yaml:"user_info,omitempty"`
	// E.g. "ETL Process", "Data Import".
	OperationType string `json:"operation_type,omitempty" yaml:"operation_type,omitempty"`
}

type Performance struct {
	Metrics     map[string]Value    `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Logs        map[string][]string `json:"logs,omitempty" yaml:"logs,omitempty"`
	Bottlenecks []string            `json:"bottlenecks,omitempty" yaml:"bottlenecks,omitempty"`
}

// Process is a declarative ETL pipeline definition.
type Process struct {
	// Catalog-wide unique identifier. Assigned on registration if empty.
	ID                string            `json:"process_id" yaml:"process_id"`
	Sources           []Source          `json:"source" yaml:"source"`
	Transformations   []Transformation  `json:"transformations" yaml:"transformations"`
	Destinations      []Destination     `json:"destination" yaml:"destination"`
	Lifecycle         Lifecycle         `json:"lifecycle" yaml:"lifecycle"`
	JobControl        JobControl        `json:"job_control" yaml:"job_control"`
	QualityValidation QualityValidation `json:"quality_validation" yaml:"quality_validation"`
	Audit             Audit             `json:"audit" yaml:"audit"`
	Performance       Performance       `json:"performance" yaml:"performance"`
}

func (p *Process) GetKind() Kind { return KindProcess }
func (p *Process) GetID() string { return p.ID }

// TransformationIDs returns the IDs of all transformations in declaration order.
func (p *Process) TransformationIDs() []string {
	ids := make([]string, len(p.Transformations))
	for i, t := range p.Transformations {
		ids[i] = t.ID
	}
	return ids
}

func (c ConnectionDetails) clone() ConnectionDetails {
	c.Credentials = maps.Clone(c.Credentials)
	c.AdditionalConfig = maps.Clone(c.AdditionalConfig)
	return c
}

// Clone returns a deep copy of p.
func (p *Process) Clone() *Process {
	if p == nil {
		return nil
	}
	c := *p
	c.Sources = slices.Clone(p.Sources)
	for i := range c.Sources {
		c.Sources[i].Connection = c.Sources[i].Connection.clone()
	}
	c.Destinations = slices.Clone(p.Destinations)
	for i := range c.Destinations {
		c.Destinations[i].Connection = c.Destinations[i].Connection.clone()
	}
	c.Transformations = slices.Clone(p.Transformations)
	for i := range c.Transformations {
		c.Transformations[i].Dependencies = slices.Clone(c.Transformations[i].Dependencies)
	}
	c.Lifecycle.AccessPermissions = slices.Clone(p.Lifecycle.AccessPermissions)
	c.JobControl.Dependencies = slices.Clone(p.JobControl.Dependencies)
	c.JobControl.AlertingRules = maps.Clone(p.JobControl.AlertingRules)
	c.QualityValidation.Checks = maps.Clone(p.QualityValidation.Checks)
	c.QualityValidation.Thresholds = maps.Clone(p.QualityValidation.Thresholds)
	c.QualityValidation.ValidationRules = maps.Clone(p.QualityValidation.ValidationRules)
	c.Audit.Timestamps = maps.Clone(p.Audit.Timestamps)
	c.Audit.UserInfo = maps.Clone(p.Audit.UserInfo)
	c.Performance.Metrics = maps.Clone(p.Performance.Metrics)
	if p.Performance.Logs != nil {
		c.Performance.Logs = make(map[string][]string, len(p.Performance.Logs))
		for k, v := range p.Performance.Logs {
			c.Performance.Logs[k] = slices.Clone(v)
		}
	}
	c.Performance.Bottlenecks = slices.Clone(p.Performance.Bottlenecks)
	return &c
}
