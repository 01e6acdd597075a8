package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresouza/chatd/internal/adapter/ollama"
	"github.com/andresouza/chatd/internal/config"
	"github.com/andresouza/chatd/internal/service"
	"github.com/andresouza/chatd/internal/store"
)

// newBackend fakes the Ollama API: generate, tags and version.
func newBackend(t *testing.T, response string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			fmt.Fprintf(w, `{"response":%q,"done":true,"eval_count":3}`+"\n", response)
			return
		}
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Olá, ", "tudo ", "bem?"} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, `{"response":"","done":true,"eval_count":5}`+"\n")
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3.2","size":2000000000},{"name":"mistral","size":4000000000}]}`)
	})
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"0.5.4"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, backendURL string) (*echo.Echo, *service.Service) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		DefaultModel:   "llama3.2",
		StreamTimeout:  2 * time.Second,
		RequestTimeout: 2 * time.Second,
		TitleTimeout:   2 * time.Second,
		HealthTimeout:  time.Second,
	}
	llm := ollama.NewClient(ollama.Config{
		BaseURL:        backendURL,
		DefaultModel:   cfg.DefaultModel,
		RequestTimeout: cfg.RequestTimeout,
		StreamTimeout:  cfg.StreamTimeout,
		HealthTimeout:  cfg.HealthTimeout,
	}, zap.NewNop())
	svc := service.New(st, llm, cfg, zap.NewNop())
	return NewServer(svc), svc
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageEndpoint(t *testing.T) {
	backend := newBackend(t, "Tudo certo!")
	e, svc := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodPost, "/api/chat/messages", `{"content":"olá"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		UserMessage struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"userMessage"`
		AssistantMessage struct {
			Content  string         `json:"content"`
			Metadata map[string]any `json:"metadata"`
		} `json:"assistantMessage"`
		Session struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "olá", res.UserMessage.Content)
	require.Equal(t, "user", res.UserMessage.Role)
	require.Equal(t, "Tudo certo!", res.AssistantMessage.Content)
	require.NotEmpty(t, res.Session.ID)
	require.Equal(t, "olá", res.Session.Title)
	svc.Wait()

	// Follow-up into the same session.
	rec = doJSON(e, http.MethodPost, "/api/chat/messages",
		fmt.Sprintf(`{"sessionId":%q,"content":"segunda"}`, res.Session.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	svc.Wait()
}

func TestSendMessageValidation(t *testing.T) {
	backend := newBackend(t, "ok")
	e, _ := newTestServer(t, backend.URL)

	cases := []struct {
		name, body string
	}{
		{"missing content", `{}`},
		{"bad temperature", `{"content":"oi","temperature":3.5}`},
		{"bad maxTokens", `{"content":"oi","maxTokens":9999}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/api/chat/messages", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	backend := newBackend(t, "ok")
	e, _ := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodPost, "/api/chat/messages", `{"sessionId":"nope","content":"oi"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageStreamEndpoint(t *testing.T) {
	backend := newBackend(t, "ignorado")
	e, svc := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodPost, "/api/chat/messages/stream", `{"content":"oi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	svc.Wait()

	var (
		deltas   []string
		finals   int
		finalRaw json.RawMessage
	)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var env struct {
			Response string          `json:"response"`
			Done     bool            `json:"done"`
			Result   json.RawMessage `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env))
		if env.Done {
			finals++
			finalRaw = env.Result
			continue
		}
		deltas = append(deltas, env.Response)
	}

	require.Equal(t, 1, finals)
	require.NotEmpty(t, finalRaw)

	var result struct {
		AssistantMessage struct {
			Content string `json:"content"`
		} `json:"assistantMessage"`
	}
	require.NoError(t, json.Unmarshal(finalRaw, &result))
	require.Equal(t, "Olá, tudo bem?", result.AssistantMessage.Content)
	require.Equal(t, result.AssistantMessage.Content, strings.Join(deltas, ""))
}

func TestAttachFileEndpoint(t *testing.T) {
	backend := newBackend(t, "gerado")
	e, svc := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodPost, "/api/chat/messages", `{"content":"gera uma imagem"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	svc.Wait()

	var res struct {
		AssistantMessage struct {
			ID string `json:"id"`
		} `json:"assistantMessage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = doJSON(e, http.MethodPost, "/api/chat/messages/"+res.AssistantMessage.ID+"/attachments",
		`{"type":"image","url":"/files/cat.png","filename":"cat.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var msg struct {
		Attachments []struct {
			URL string `json:"url"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "/files/cat.png", msg.Attachments[0].URL)
}

func TestAttachFileValidation(t *testing.T) {
	backend := newBackend(t, "ok")
	e, _ := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodPost, "/api/chat/messages/some-id/attachments", `{"type":"image"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/chat/messages/some-id/attachments", `{"url":"/files/x.png"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModelsEndpoint(t *testing.T) {
	backend := newBackend(t, "ok")
	e, _ := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Models, 2)
	require.Equal(t, "llama3.2", res.Models[0].Name)
}

func TestListModelsBackendDown(t *testing.T) {
	backend := newBackend(t, "ok")
	backend.Close()
	e, _ := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"models":[]}`, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	backend := newBackend(t, "ok")
	e, _ := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Connected bool `json:"connected"`
		Models    int  `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Connected)
	require.Equal(t, 2, res.Models)
}

func TestHealthEndpointBackendDown(t *testing.T) {
	backend := newBackend(t, "ok")
	backend.Close()
	e, _ := newTestServer(t, backend.URL)

	rec := doJSON(e, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Connected bool `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.False(t, res.Connected)
}
