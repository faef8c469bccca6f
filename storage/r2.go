package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"golang.org/x/sync/semaphore"
)

// R2Config holds configuration for Cloudflare R2 storage
type R2Config struct {
	AccessKey string
	SecretKey string
	AccountID string
	Bucket    string
	Endpoint  string
	Region    string
	BaseURL   string // Public URL for file access, e.g. https://media.example.com
}

const (
	// Number of attempts for UploadFile retry loop
	maxUploadAttempts = 3
	// Maximum concurrent file uploads in UploadDirectory
	maxDirConcurrency = 5
)

// R2Storage handles operations with Cloudflare R2
type R2Storage struct {
	config   R2Config
	session  *session.Session
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewR2Storage creates a new R2Storage instance
func NewR2Storage(config R2Config) (*R2Storage, error) {
	// Set default region if not provided
	if config.Region == "" {
		config.Region = "auto"
	}

	// Create endpoint URL if AccountID is provided but full endpoint isn't
	if config.Endpoint == "" && config.AccountID != "" {
		config.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.AccountID)
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		// Force path style addressing for compatibility with S3 API
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	client := s3.New(sess)

	// Sequential multipart parts keep a single HTTP connection active at a time
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10 MB
		u.Concurrency = 1
	})

	return &R2Storage{
		config:   config,
		session:  sess,
		client:   client,
		uploader: uploader,
	}, nil
}

// contentTypeFor maps a file extension to its MIME type
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// UploadFile uploads a file to R2 storage, retrying with backoff on failure
func (r *R2Storage) UploadFile(localPath, remotePath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %v", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %v", err)
	}

	metadata := map[string]*string{
		"OriginalFileName": aws.String(filepath.Base(localPath)),
		"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
		"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
	}

	log.Printf("[R2] Uploading file (%.2f MB): %s", float64(fileInfo.Size())/1024/1024, localPath)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		// Ensure we start reading from the beginning each attempt
		if _, err := file.Seek(0, 0); err != nil {
			return "", fmt.Errorf("failed to seek to beginning of file: %v", err)
		}

		_, lastErr = r.uploader.Upload(&s3manager.UploadInput{
			Bucket:      aws.String(r.config.Bucket),
			Key:         aws.String(remotePath),
			Body:        file,
			ContentType: aws.String(contentTypeFor(localPath)),
			Metadata:    metadata,
		})

		if lastErr == nil {
			break
		}

		log.Printf("[R2] Upload attempt %d/%d failed for %s: %v", attempt, maxUploadAttempts, localPath, lastErr)
		// Exponential backoff: 2s, 4s, ...
		time.Sleep(time.Duration(1<<uint(attempt)) * time.Second)
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to upload file to R2 after %d attempts: %v", maxUploadAttempts, lastErr)
	}

	publicURL := fmt.Sprintf("%s/%s", r.GetBaseURL(), remotePath)
	log.Printf("[R2] File uploaded successfully, public URL: %s", publicURL)

	return publicURL, nil
}

// UploadDirectory uploads all files in a directory to R2 with bounded concurrency
func (r *R2Storage) UploadDirectory(localDir, remotePrefix string) ([]string, error) {
	var localPaths, remotePaths []string

	err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("failed to determine relative path: %v", err)
		}

		remotePath := filepath.Join(remotePrefix, relPath)
		// Ensure forward slashes for S3 keys
		remotePath = strings.ReplaceAll(remotePath, "\\", "/")

		localPaths = append(localPaths, path)
		remotePaths = append(remotePaths, remotePath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory walk failed: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sem      = semaphore.NewWeighted(maxDirConcurrency)
		uploaded []string
		firstErr error
	)

	for i := range localPaths {
		if err := sem.Acquire(context.Background(), 1); err != nil {
			return nil, fmt.Errorf("failed to acquire upload slot: %v", err)
		}

		wg.Add(1)
		go func(localPath, remotePath string) {
			defer wg.Done()
			defer sem.Release(1)

			location, err := r.UploadFile(localPath, remotePath)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to upload %s: %v", localPath, err)
				}
				return
			}
			uploaded = append(uploaded, location)
		}(localPaths[i], remotePaths[i])
	}

	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("directory upload failed: %v", firstErr)
	}

	return uploaded, nil
}

// RecordingKey returns the R2 object key for a recording file
func RecordingKey(cameraName, localPath string) string {
	return fmt.Sprintf("recordings/%s/%s", cameraName, filepath.Base(localPath))
}

// SnapshotKey returns the R2 object key for a snapshot image
func SnapshotKey(cameraName, localPath string) string {
	return fmt.Sprintf("snapshots/%s/%s", cameraName, filepath.Base(localPath))
}

// UploadRecording uploads a finished recording and returns its key and public URL
func (r *R2Storage) UploadRecording(localPath, cameraName string) (string, string, error) {
	key := RecordingKey(cameraName, localPath)

	log.Printf("[R2] Uploading recording %s to bucket %s with key %s", localPath, r.config.Bucket, key)

	publicURL, err := r.UploadFile(localPath, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to upload recording: %v", err)
	}

	return key, publicURL, nil
}

// ListObjects lists objects in the R2 bucket with a given prefix
func (r *R2Storage) ListObjects(prefix string) ([]*s3.Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(r.config.Bucket),
		Prefix: aws.String(prefix),
	}

	result, err := r.client.ListObjectsV2(input)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %v", err)
	}

	return result.Contents, nil
}

// DeleteObject deletes an object from the R2 bucket
func (r *R2Storage) DeleteObject(key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(r.config.Bucket),
		Key:    aws.String(key),
	}

	_, err := r.client.DeleteObject(input)
	if err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}

	return nil
}

// GetBaseURL returns the base URL for the R2 bucket
func (r *R2Storage) GetBaseURL() string {
	if r.config.BaseURL != "" {
		return r.config.BaseURL
	}

	// Fall back to endpoint/bucket when no public base URL is configured
	return fmt.Sprintf("%s/%s", r.config.Endpoint, r.config.Bucket)
}
