package mci_json2tsv

type Config struct {
	Directory    string `docopt:"--directory"`
	OutputPath   string `docopt:"--output"`
	MappingPath  string `docopt:"--mapping"`
	FormParse    bool   `docopt:"--formparse"`
	ResultsParse bool   `docopt:"--resultsparse"`

	DBHostname  string `docopt:"--dbhost"`
	DBPort      int    `docopt:"--dbport"`
	DBToken     string `docopt:"--dbtoken"`
	HttpPath    string `docopt:"--dbhttppath"`
	DBSchema    string `docopt:"--dbschema"`
	DBTable     string `docopt:"--dbtable"`
	SlackURL    string `docopt:"--slackurl"`
	SAML2AWSBin string `docopt:"--saml2aws"`
	SAMLProfile string `docopt:"--saml2profile"`
	SAMLRegion  string `docopt:"--saml2region"`
	AWSBucket   string `docopt:"--awsdestbucket"`

	OTELTracerHost string `docopt:"--tracerhost"`
	OTELTracerPort int    `docopt:"--tracerport"`
	ServiceName    string `docopt:"--servicename"`
}

var TestConfig = Config{
	Directory:    "",
	OutputPath:   "",
	MappingPath:  "",
	FormParse:    false,
	ResultsParse: false,
	DBHostname:   "",
	DBPort:       0,
	DBToken:      "",
	HttpPath:     "",
	DBSchema:     "",
	DBTable:      "",
	SlackURL:     "",
	SAML2AWSBin:  "",
	SAMLProfile:  "",
	SAMLRegion:   "",
	AWSBucket:    "",
}
