// Command loadtest drives a running server with pairs of users messaging
// each other and checks afterwards that no message was dropped.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"livechat/internal/models"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Token string `json:"-"`
}

type OperationType int

const (
	WriteOperation OperationType = iota
	ReadOperation
)

var (
	baseURL     = flag.String("url", "http://localhost:8080", "Server base URL")
	numPairs    = flag.Int("pairs", 50, "Number of user pairs")
	rate        = flag.Int("rate", 2, "Operations per second per user")
	duration    = flag.Duration("duration", 30*time.Second, "Simulation time")
	writeChance = flag.Float64("writes", 0.5, "Share of operations that send a message")
	batchSize   = flag.Int("batch", 20, "Users registered in parallel")
)

var client = &http.Client{Timeout: 5 * time.Second}

func registerUser(runID string, id int) (*User, error) {
	payload := map[string]string{
		"name":     fmt.Sprintf("Load %d", id),
		"email":    fmt.Sprintf("load-%s-%d@example.com", runID, id),
		"password": "testpass123",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(*baseURL+"/api/auth/register", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	result.User.Token = result.Token
	return &result.User, nil
}

type Stats struct {
	sync.Mutex
	totalRequests   int64
	successRequests int64
	failedRequests  int64
	totalLatency    time.Duration
	maxLatency      time.Duration
	minLatency      time.Duration
	writeLatencies  []time.Duration
	readLatencies   []time.Duration
	// sent counts acknowledged messages per conversation.
	sent map[string]int
}

func (s *Stats) recordSuccess(latency time.Duration, opType OperationType) {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.successRequests++
	s.totalLatency += latency
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}

	switch opType {
	case WriteOperation:
		s.writeLatencies = append(s.writeLatencies, latency)
	case ReadOperation:
		s.readLatencies = append(s.readLatencies, latency)
	}
}

func (s *Stats) recordSent(conversationID string) {
	s.Lock()
	defer s.Unlock()
	s.sent[conversationID]++
}

func (s *Stats) recordError() {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.failedRequests++
}

func p99(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func messagesURL(partnerID string) string {
	return *baseURL + "/api/conversations/" + partnerID + "/messages"
}

func sendMessage(user, partner *User) (string, error) {
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("Test message from %s at %s", user.ID, time.Now().Format(time.RFC3339Nano)),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, messagesURL(partner.ID), bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+user.Token)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("send failed with status: %d", resp.StatusCode)
	}
	var msg struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", err
	}
	return msg.ConversationID, nil
}

func fetchMessageCount(user, partner *User) (int, error) {
	req, err := http.NewRequest(http.MethodGet, messagesURL(partner.ID), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+user.Token)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("read failed with status: %d", resp.StatusCode)
	}
	var conv struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return 0, err
	}
	return len(conv.Messages), nil
}

func simulateUser(user, partner *User, wg *sync.WaitGroup, stats *Stats) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	endTime := time.Now().Add(*duration)
	for time.Now().Before(endTime) {
		<-ticker.C

		start := time.Now()
		if rand.Float64() < *writeChance {
			conversationID, err := sendMessage(user, partner)
			if err != nil {
				stats.recordError()
				log.Printf("Error sending message: %v", err)
				continue
			}
			stats.recordSuccess(time.Since(start), WriteOperation)
			stats.recordSent(conversationID)
		} else {
			if _, err := fetchMessageCount(user, partner); err != nil {
				stats.recordError()
				log.Printf("Error reading messages: %v", err)
				continue
			}
			stats.recordSuccess(time.Since(start), ReadOperation)
		}
	}
}

func main() {
	flag.Parse()
	if *rate <= 0 || *numPairs <= 0 || *batchSize <= 0 {
		log.Fatalf("pairs, rate and batch must be positive")
	}
	runID := uuid.NewString()[:8]

	log.Printf("Registering %d users...", 2**numPairs)
	users := make([]*User, 2**numPairs)
	for start := 0; start < len(users); start += *batchSize {
		end := min(start+*batchSize, len(users))
		var wg sync.WaitGroup
		errs := make(chan error, end-start)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u, err := registerUser(runID, i)
				if err != nil {
					errs <- fmt.Errorf("user %d: %w", i, err)
					return
				}
				users[i] = u
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			log.Fatalf("Failed to register: %v", err)
		}
	}

	stats := &Stats{sent: make(map[string]int)}
	log.Printf("Simulating %d conversations for %v...", *numPairs, *duration)
	began := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < len(users); i += 2 {
		wg.Add(2)
		go simulateUser(users[i], users[i+1], &wg, stats)
		go simulateUser(users[i+1], users[i], &wg, stats)
	}
	wg.Wait()
	elapsed := time.Since(began)

	dropped := 0
	for i := 0; i < len(users); i += 2 {
		got, err := fetchMessageCount(users[i], users[i+1])
		if err != nil {
			log.Printf("Verification read failed: %v", err)
			continue
		}
		stats.Lock()
		want := stats.sent[models.ConversationID(users[i].ID, users[i+1].ID)]
		stats.Unlock()
		if got < want {
			dropped += want - got
			log.Printf("Conversation %s has %d messages, %d were acknowledged", models.ConversationID(users[i].ID, users[i+1].ID), got, want)
		}
	}

	stats.Lock()
	defer stats.Unlock()
	p := message.NewPrinter(language.English)
	p.Printf("\nLoad test results:\n")
	p.Printf("Duration:            %v\n", elapsed.Round(time.Millisecond))
	p.Printf("Total requests:      %d\n", stats.totalRequests)
	p.Printf("Successful requests: %d\n", stats.successRequests)
	p.Printf("Failed requests:     %d\n", stats.failedRequests)
	p.Printf("Requests/second:     %.2f\n", float64(stats.totalRequests)/elapsed.Seconds())
	if stats.successRequests > 0 {
		p.Printf("Average latency:     %v\n", stats.totalLatency/time.Duration(stats.successRequests))
	}
	p.Printf("Min/Max latency:     %v / %v\n", stats.minLatency, stats.maxLatency)
	p.Printf("P99 write latency:   %v\n", p99(stats.writeLatencies))
	p.Printf("P99 read latency:    %v\n", p99(stats.readLatencies))
	p.Printf("Dropped messages:    %d\n", dropped)
}
