// Package examples looks up curated question/SQL pairs that the generator
// shows the model as few-shot hints.
package examples

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/models"
)

var (
	ErrIndexNotFound = errors.New("example index not found")
	ErrSearchFailed  = errors.New("example search failed")
)

// Retriever searches an Elasticsearch index whose documents carry
// "question" and "sql" fields.
type Retriever struct {
	client  *elasticsearch.Client
	index   string
	topK    int
	timeout time.Duration
	logger  logger.Logger
}

func NewRetriever(client *elasticsearch.Client, cfg config.ExamplesConfig, log logger.Logger) *Retriever {
	return &Retriever{
		client:  client,
		index:   cfg.Index,
		topK:    cfg.TopK,
		timeout: config.Millis(cfg.Timeout),
		logger:  log.WithFields(map[string]interface{}{"component": "examples", "index": cfg.Index}),
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				Question string `json:"question"`
				SQL      string `json:"sql"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Similar returns up to topK examples ranked by relevance to question.
func (r *Retriever) Similar(ctx context.Context, question string) ([]models.Example, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	body, err := json.Marshal(buildQuery(question))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	size := r.topK
	req := esapi.SearchRequest{
		Index: []string{r.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}

	res, err := req.Do(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, r.index)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSearchFailed, err)
	}

	out := make([]models.Example, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		if hit.Source.Question == "" || hit.Source.SQL == "" {
			continue
		}
		out = append(out, models.Example{
			Question: hit.Source.Question,
			SQL:      hit.Source.SQL,
			Score:    hit.Score,
		})
	}

	r.logger.Debug("examples retrieved", map[string]interface{}{"count": len(out)})
	return out, nil
}

func buildQuery(question string) map[string]interface{} {
	return map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  question,
				"fields": []string{"question^3", "sql"},
				"type":   "best_fields",
			},
		},
		"_source": []string{"question", "sql"},
	}
}
