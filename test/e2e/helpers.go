//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/corvid-labs/corvid/internal/api/handlers"
	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/jobs"
	"github.com/corvid-labs/corvid/internal/repository"
	"github.com/corvid-labs/corvid/internal/server"
	"github.com/corvid-labs/corvid/internal/service"
	"github.com/corvid-labs/corvid/internal/storage"
	"github.com/corvid-labs/corvid/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment: containers, migrated
// database, and an in-process server wired with stub AI collaborators so the
// suite needs no external API.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-attachments",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}

	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, s3Client, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Put performs a PUT request
func (e *E2ETestEnv) Put(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("PUT", path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// PostSSE performs a POST request and returns the raw SSE body
func (e *E2ETestEnv) PostSSE(path string, body interface{}) (string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest("POST", e.ServerURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("expected event stream, got %s: %s", ct, raw)
	}

	raw, err := io.ReadAll(resp.Body)
	return string(raw), err
}

// UploadFile uploads a file to the presigned URL
func (e *E2ETestEnv) UploadFile(uploadURL string, content []byte, contentType string) error {
	req, err := http.NewRequest("PUT", uploadURL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, body)
	}

	return nil
}

// DownloadFile downloads a file from the presigned URL
func (e *E2ETestEnv) DownloadFile(downloadURL string) ([]byte, error) {
	resp, err := e.HTTPClient.Get(downloadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// SHA256Sum calculates SHA256 hash of data
func SHA256Sum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// startServer starts the HTTP server with all handlers and the embedding
// worker on a fast poll so tests observe asynchronous processing quickly.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, port int) (string, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	knowledgeRepo := repository.NewKnowledgeRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	personalityRepo := repository.NewPersonalityRepository(pool)
	feedbackRepo := repository.NewFeedbackRepository(pool)
	embeddingJobRepo := repository.NewEmbeddingJobRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	ai := &stubAIClient{}

	embeddingSvc := service.NewEmbeddingService(ai, knowledgeRepo)
	embeddingProcessor := jobs.NewEmbeddingWorker(embeddingJobRepo, embeddingSvc)
	embeddingWorker := jobs.NewWorker(embeddingProcessor, 200*time.Millisecond)
	go embeddingWorker.Start(ctx)

	searchSvc := service.NewSearchService(knowledgeRepo, ai)
	personalitySvc := service.NewPersonalityService(personalityRepo, searchSvc, ai, service.PersonalityConfig{
		AssistantName: "Corvid",
		AssistantTone: "helpful and professional",
		CacheTTL:      time.Hour,
	})
	chatSvc := service.NewChatService(conversationRepo, messageRepo, searchSvc, personalitySvc, ai)
	conversationSvc := service.NewConversationService(conversationRepo, messageRepo)
	knowledgeSvc := service.NewKnowledgeService(knowledgeRepo, embeddingJobRepo, txRunner, s3Client)
	feedbackSvc := service.NewFeedbackService(feedbackRepo, messageRepo)

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:         handlers.NewChatHandler(chatSvc),
		ConversationHandler: handlers.NewConversationHandler(conversationSvc),
		KnowledgeHandler:    handlers.NewKnowledgeHandler(knowledgeSvc),
		SearchHandler:       handlers.NewSearchHandler(searchSvc),
		PersonalityHandler:  handlers.NewPersonalityHandler(personalitySvc),
		FeedbackHandler:     handlers.NewFeedbackHandler(feedbackSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		embeddingWorker.Stop()
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stubAIClient is a deterministic stand-in for the OpenAI client. Embeddings
// derive from a hash of the input text, completions echo the user message.
type stubAIClient struct{}

func (c *stubAIClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	hash := sha256.Sum256([]byte(text))
	embedding := make([]float32, domain.EmbeddingDimensions)
	var norm float64
	for i := range embedding {
		// A shared base component keeps all stub vectors loosely correlated
		// so cosine scores land in a plausible positive range.
		embedding[i] = 1.0 + float32(hash[i%len(hash)])/255.0
		norm += float64(embedding[i]) * float64(embedding[i])
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range embedding {
		embedding[i] *= scale
	}
	return embedding, nil
}

func (c *stubAIClient) Complete(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (string, error) {
	return "Echo: " + userMessage, nil
}

func (c *stubAIClient) CompleteStream(ctx context.Context, systemPrompt string, history []*domain.Message, userMessage string) (service.CompletionStream, error) {
	return &stubStream{chunks: []string{"Echo: ", userMessage}}, nil
}

type stubStream struct {
	chunks []string
	pos    int
}

func (s *stubStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *stubStream) Close() error { return nil }
