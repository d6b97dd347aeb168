package main

import (
	"github.com/Cdaprod/cda.data-lake/internal/catalog"
)

// exampleDocument returns a small catalog with one ETL pipeline from raw
// events to a reporting table.
func exampleDocument() *catalog.Document {
	return &catalog.Document{
		Metastores: []*catalog.Metastore{
			{
				ID: "raw",
				Assets: map[string]*catalog.Asset{
					"click-events": {
						ID:          "click-events",
						Type:        "table",
						Description: "Click stream as delivered by the web frontend.",
						Location:    "s3://lake/raw/click-events",
						Schema:      map[string]string{"user_id": "string", "url": "string", "ts": "timestamp"},
					},
				},
			},
			{
				ID: "curated",
				Assets: map[string]*catalog.Asset{
					"sessions": {
						ID:          "sessions",
						Type:        "table",
						Description: "Click events grouped into *sessions* of 30 minutes.",
						Location:    "s3://lake/curated/sessions",
						Schema:      map[string]string{"session_id": "string", "user_id": "string", "clicks": "int"},
						Lineage:     []string{"click-events"},
					},
					"daily-report": {
						ID:       "daily-report",
						Type:     "view",
						Location: "s3://lake/curated/daily-report",
						Lineage:  []string{"sessions"},
					},
				},
			},
		},
		Processes: []*catalog.Process{
			{
				ID: "sessionize",
				Sources: []catalog.Source{{
					ID:         "clicks",
					Connection: catalog.ConnectionDetails{Type: "S3", Identifier: "lake"},
					DataFormat: "parquet",
				}},
				Transformations: []catalog.Transformation{
					{ID: "extract", Logic: "etl/extract.sql"},
					{ID: "dedupe", Logic: "etl/dedupe.sql", Dependencies: []string{"extract"}},
					{ID: "geo-enrich", Logic: "etl/geo.py", Dependencies: []string{"extract"}},
					{ID: "sessionize", Logic: "etl/sessionize.sql", Dependencies: []string{"dedupe", "geo-enrich"}},
				},
				Destinations: []catalog.Destination{{
					ID:         "sessions",
					Connection: catalog.ConnectionDetails{Type: "S3", Identifier: "lake"},
					DataFormat: "parquet",
				}},
				Lifecycle:  catalog.Lifecycle{Stage: "transformed", RetentionPolicy: "90d"},
				JobControl: catalog.JobControl{Schedule: "0 2 * * *"},
			},
		},
		Connections: []*catalog.ClientConnection{
			{
				ID:          "minio",
				ServiceType: "minio",
				Hostname:    "localhost",
				Port:        9000,
				Username:    "minioadmin",
				Password:    "minioadmin",
				Tools:       []string{"mc"},
			},
		},
	}
}
