package mci_json2tsv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AWSS3Service uploads run artifacts to the destination bucket. Credentials
// come from a saml2aws-managed profile; the client is rebuilt when the SAML
// session expires.
type AWSS3Service struct {
	saml2AWSBin     string
	samlProfile     string
	samlRegion      string
	bucket          string
	sessionStart    time.Time
	sessionDuration float64
	client          *s3.Client
}

func NewAWSS3Service(saml2awsBin, samlProfile, samlRegion, bucket string, sessionDuration float64) *AWSS3Service {
	return &AWSS3Service{
		saml2AWSBin:     saml2awsBin,
		samlProfile:     samlProfile,
		samlRegion:      samlRegion,
		bucket:          bucket,
		sessionDuration: sessionDuration,
	}
}

// PutArtifact uploads one file produced by the run under the given bucket
// key.
func (a *AWSS3Service) PutArtifact(bucketKey, path string) error {
	s3Client, err := a.getClient()
	if err != nil {
		return fmt.Errorf("Failed to get s3 client: '%s': %q", path, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Failed to read artifact '%s': %q", path, err)
	}
	err = PutObject(s3Client, content, bucketKey, a.bucket, artifactContentType(path))
	if err != nil {
		return fmt.Errorf("Failed to PutArtifact: '%s': %q", path, err)
	}
	return nil
}

// artifactContentType maps the run's artifact kinds to media types.
func artifactContentType(path string) string {
	switch filepath.Ext(path) {
	case ".tsv":
		return "text/tab-separated-values"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}

func PutObject(client *s3.Client, content []byte, bucketKey, bucketName, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucketName),
		Key:         aws.String(bucketKey),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	}

	_, err := client.PutObject(context.TODO(), input)
	if err != nil {
		return fmt.Errorf("Failed to upload object, %v", err)
	}

	return nil
}

func GenerateToken(saml2awsBin string) error {
	cmd := exec.Command("sh", saml2awsBin)
	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("Failed to run %q, err: %v", saml2awsBin, err)
	}
	return nil
}

func CreateClient(credsProfile, region string) (*s3.Client, error) {
	var client *s3.Client
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithSharedConfigProfile(credsProfile))
	if err != nil {
		return client, fmt.Errorf("Failed to load SDK configuration: %v", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (a *AWSS3Service) getClient() (*s3.Client, error) {
	if a.client == nil || a.sessionIsExpired() {
		err := GenerateToken(a.saml2AWSBin)
		if err != nil {
			return nil, fmt.Errorf("Failed to generate AWS token: %q", err)
		}
		// saml2AWS returns without error, but without being fully setup, lets pause
		time.Sleep(time.Minute)
		s3Client, err := CreateClient(a.samlProfile, a.samlRegion)
		if err != nil {
			return nil, fmt.Errorf("Failed to create S3 client: %q", err)
		}

		a.sessionStart = time.Now()
		a.client = s3Client
	}
	return a.client, nil
}

func (a *AWSS3Service) sessionIsExpired() bool {
	if time.Since(a.sessionStart).Seconds() < a.sessionDuration {
		return false
	}
	return true
}
