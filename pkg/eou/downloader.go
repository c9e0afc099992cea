package eou

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// modelRepo is the Hugging Face repository holding the quantized
// end-of-utterance model that Onnx loads.
const (
	modelRepo     = "livekit/turn-detector"
	modelRevision = "v1.2.2-en"
)

// modelFiles maps each required file to its SHA-256 hash. An empty hash
// means existence is enough.
var modelFiles = map[string]string{
	onnxModelFile:     "fdd695a99bda01155fb0b5ce71d34cb9fd3902c62496db7a6c2c7bdeac310ac7",
	onnxTokenizerFile: "c8219a662de786c94771323c3500377970f5eaa3afbeaef9390c9a51db9f7884",
}

// Downloader fetches the end-of-utterance model files so NewOnnx can find
// them locally.
type Downloader struct {
	modelPath string
	client    *http.Client
}

// NewDownloader creates a downloader targeting modelPath. Empty uses the
// same default directory NewOnnx reads from.
func NewDownloader(modelPath string) *Downloader {
	if modelPath == "" {
		modelPath = defaultModelPath()
	}
	return &Downloader{
		modelPath: modelPath,
		client:    &http.Client{},
	}
}

// ModelPath returns the directory the downloader writes to.
func (d *Downloader) ModelPath() string {
	return d.modelPath
}

// Ready reports whether every model file is present and hash-valid.
func (d *Downloader) Ready() bool {
	for filename, hash := range modelFiles {
		if !d.isValidFile(filepath.Join(d.modelPath, filename), hash) {
			return false
		}
	}
	return true
}

// Download fetches any missing or corrupt model files. Files that already
// verify are left alone.
func (d *Downloader) Download() error {
	for filename, hash := range modelFiles {
		filePath := filepath.Join(d.modelPath, filename)
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return fmt.Errorf("failed to create directories for %s: %w", filename, err)
		}

		if d.isValidFile(filePath, hash) {
			fmt.Printf("✓ %s already exists and is valid\n", filename)
			continue
		}

		fmt.Printf("Downloading %s...\n", filename)
		if err := d.downloadFile(filename, filePath); err != nil {
			os.Remove(filePath)
			return fmt.Errorf("failed to download %s: %w", filename, err)
		}
		fmt.Printf("✓ Downloaded %s\n", filename)
	}
	return nil
}

func (d *Downloader) downloadFile(filename, destination string) error {
	url := fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s",
		modelRepo, modelRevision, filename)

	resp, err := d.client.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	file, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (d *Downloader) isValidFile(filePath, expectedHash string) bool {
	info, err := os.Stat(filePath)
	if err != nil || info.Size() == 0 {
		return false
	}
	if expectedHash == "" {
		return true
	}
	return verifyFileHash(filePath, expectedHash)
}

func verifyFileHash(filePath, expectedHash string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)) == expectedHash
}
