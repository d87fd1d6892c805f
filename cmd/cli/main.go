package main

import (
	"context"
	"fmt"
	"log"
	"os"

	mj "github.com/ccdi-mci/mci-json2tsv"
	"github.com/docopt/docopt-go"
	"go.opentelemetry.io/otel"
)

const usage = `mci-json2tsv.

Transforms a directory of MCI clinical JSON files, both COG and IGM, into
TSV data files, a data dictionary, and an integrated COG/IGM workbook.
JSON files MUST have suffix .json to be included in conversion.

Usage:
  mci-json2tsv -h | --help
  mci-json2tsv --directory=<dir> --output=<dir> --mapping=<file>
               [--formparse] [--resultsparse]
               [--dbhost=<hostname>] [--dbport=<port>]
               [--dbtoken=<token>] [--dbhttppath=<path>]
               [--dbschema=<schema>] [--dbtable=<table>]
               [--slackurl=<url>]
               [--saml2aws=<saml2aws>] [--saml2profile=<profile>]
               [--saml2region=<region>] [--awsdestbucket=<bucket>]
               [--tracerhost=<hostname>] [--tracerport=<port>]
               [--servicename=<name>]

Options:
  -h --help                   Show this screen.
  --directory=<dir>           A directory of MCI JSON files, COG and/or IGM.
  --output=<dir>              Path to output directory to direct file outputs.
  --mapping=<file>            The COG/IGM integration mapping TSV.
  --formparse                 Parse out COG TSVs by form.
  --resultsparse              Parse out IGM variant results sections.
  --dbhost=<hostname>         Databricks hostname.
  --dbport=<port>             Databricks port.
  --dbtoken=<token>           Databricks personal access token.
  --dbhttppath=<path>         The HTTP path to the Databricks SQL Warehouse.
  --dbschema=<schema>         The Databricks schema for the integrated table.
  --dbtable=<table>           The Databricks table for the integrated rows.
  --slackurl=<url>            The URL to the slack channel for run-completion notification.
  --saml2aws=<saml2aws>       The saml2aws script.
  --saml2profile=<profile>    The aws creds profile.
  --saml2region=<region>      The aws region.
  --awsdestbucket=<bucket>    The dest bucket for run artifacts.
  --tracerhost=<hostname>     OTel Tracer hostname.
  --tracerport=<port>         OTel Tracer port.
  --servicename=<name>        Tracing service name.
`

// samlSessionDuration is how long a saml2aws session stays usable, seconds.
const samlSessionDuration = 3600

func handleError(err error, message string) {
	if err != nil {
		log.Fatalf("%s: %v", message, err)
	}
}

func main() {
	fmt.Println("\n\t>>> Running mci-json2tsv ....")

	args, err := docopt.ParseDoc(usage)
	handleError(err, "Arguments cannot be parsed")

	var config mj.Config
	err = args.Bind(&config)
	handleError(err, "Error binding arguments")

	closeLog, err := mj.InitRunLog()
	handleError(err, "Run log cannot be created")

	ctx := context.Background()

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = "mci-json2tsv"
	}
	if config.OTELTracerHost != "" {
		shutdownTracer := mj.InitTracerProvider(ctx, config.OTELTracerHost, config.OTELTracerPort, serviceName, "prod")
		defer shutdownTracer()
	}
	tracer := otel.Tracer(serviceName + "-tracer")

	var s3Service *mj.AWSS3Service
	if config.AWSBucket != "" {
		s3Service = mj.NewAWSS3Service(config.SAML2AWSBin, config.SAMLProfile, config.SAMLRegion, config.AWSBucket, samlSessionDuration)
	}

	var warehouse *mj.DatabricksService
	if config.DBHostname != "" {
		var closeDB func()
		warehouse, closeDB, err = mj.NewDatabricksService(config.DBToken, config.DBHostname, config.HttpPath, config.DBSchema, config.DBTable, config.DBPort)
		handleError(err, "Databricks service cannot be created")
		defer closeDB()
	}

	pipeline := mj.NewPipeline(mj.NewPrefixClassifier(), s3Service, warehouse, config.SlackURL)
	summary, runErr := pipeline.Run(ctx, config, tracer)

	closeLog()
	if runErr != nil {
		fmt.Printf("\n\t>>> Process exited: %v\n", runErr)
		os.Exit(1)
	}

	if err := mj.RelocateRunLog(config.OutputPath, summary.Timestamp); err != nil {
		log.Printf("Failed to relocate run log: %v", err)
	}

	fmt.Println()
	fmt.Println(summary.String())
	fmt.Printf("\t>>> Check log file JSON2TSV_%s.log for additional information\n\n", summary.Timestamp)
}
