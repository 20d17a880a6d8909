/*
Copyright 2024 Adpilot Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package backups dumps the Postgres database to disk with pg_dump and
// optionally ships the compressed dump to S3.
package backups

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/adpilot-io/adpilot/config"
)

// BackupManager runs database backups against the configured data source.
// S3Client is optional; it is built on demand when shipping to S3.
type BackupManager struct {
	Config   *config.Configuration
	S3Client *s3.Client
}

// NewBackupManager builds a manager from the global configuration.
func NewBackupManager() (*BackupManager, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &BackupManager{Config: conf}, nil
}

// BackupToDisk dumps the database into a dated directory under the configured
// backup dir and returns the dump file path.
func (bm *BackupManager) BackupToDisk(ctx context.Context) (string, error) {
	conf := bm.Config

	db, err := sql.Open("postgres", conf.DataSource.Dns)
	if err != nil {
		return "", fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("failed to ping database: %w", err)
	}

	var dbSize string
	err = db.QueryRowContext(ctx, "SELECT pg_size_pretty(pg_database_size(current_database()))").Scan(&dbSize)
	if err != nil {
		return "", err
	}
	fmt.Printf("Database size: %s\n", dbSize)

	today := time.Now().Format("2006-01-02")
	currentTime := time.Now().Format("150405") // HHMMSS
	backupDir := fmt.Sprintf("./%s/%s", conf.BackupDir, today)

	if err := os.MkdirAll(backupDir, os.ModePerm); err != nil {
		return "", err
	}

	// Pull connection details out of the DSN for pg_dump.
	parsedURL, err := url.Parse(conf.DataSource.Dns)
	if err != nil {
		return "", err
	}

	dbUser := parsedURL.User.Username()
	dbPassword, _ := parsedURL.User.Password()
	dbHost, dbPort, err := net.SplitHostPort(parsedURL.Host)
	if err != nil {
		return "", err
	}
	dbName := "adpilot"
	backupFilePath := fmt.Sprintf("%s/adpilot-%s-backup.sql", backupDir, currentTime)
	cmd := exec.CommandContext(ctx, "pg_dump", "-U", dbUser, "-d", dbName, "-f", backupFilePath)
	cmd.Env = append(os.Environ(), "PGHOST="+dbHost, "PGPORT="+dbPort, "PGUSER="+dbUser, "PGPASSWORD="+dbPassword)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "pg_dump failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "pg_dump stderr: %v\n", stderr.String())
		return "", err
	}

	fmt.Printf("Backup successful: %s\n", backupFilePath)
	return backupFilePath, nil
}

// BackupToS3 dumps the database to disk, zips the day's backup directory,
// uploads the archive, and removes the local zip.
func (bm *BackupManager) BackupToS3(ctx context.Context) error {
	if _, err := bm.BackupToDisk(ctx); err != nil {
		return fmt.Errorf("failed to backup to disk: %w", err)
	}

	conf := bm.Config
	today := time.Now().Format("2006-01-02")
	dirToZip := fmt.Sprintf("./%s/%s", conf.BackupDir, today)
	zipFile := today + ".zip"

	if err := zipDir(dirToZip, zipFile); err != nil {
		return err
	}

	if err := bm.uploadToS3(ctx, zipFile, conf.S3BucketName, zipFile); err != nil {
		return err
	}

	if err := os.Remove(zipFile); err != nil {
		return err
	}

	fmt.Println("Backup for", today, "zipped and uploaded to S3.")
	return nil
}

// BackupDB is the CLI/API entry point for a disk backup.
func BackupDB() error {
	bm, err := NewBackupManager()
	if err != nil {
		return err
	}
	_, err = bm.BackupToDisk(context.Background())
	return err
}

// ZipUploadToS3 is the CLI/API entry point for an S3 backup.
func ZipUploadToS3() error {
	bm, err := NewBackupManager()
	if err != nil {
		return err
	}
	return bm.BackupToS3(context.Background())
}

func zipDir(srcDir, destZip string) error {
	zipFile, err := os.Create(destZip)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	writer := zip.NewWriter(zipFile)
	defer writer.Close()

	return filepath.Walk(srcDir, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		relPath := filePath[len(srcDir)+1:]
		zipFileWriter, err := writer.Create(relPath)
		if err != nil {
			return err
		}

		srcFile, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer srcFile.Close()

		_, err = io.Copy(zipFileWriter, srcFile)
		return err
	})
}

func (bm *BackupManager) uploadToS3(ctx context.Context, filePath, bucketName, itemKey string) error {
	client := bm.S3Client
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(bm.Config.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(bm.Config.AwsAccessKeyId, bm.Config.AwsSecretAccessKey, "")),
		)
		if err != nil {
			return err
		}
		client = s3.NewFromConfig(cfg)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(itemKey),
		Body:   file,
	})

	return err
}
