package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ksred/arbitrage-api/internal/auth"
	"github.com/ksred/arbitrage-api/internal/exchange"
	"github.com/ksred/arbitrage-api/internal/queue"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numTrades     = 10
	numWorkers    = 3
	quoteTicks    = 5
	serverAddress = "http://localhost:8080"
)

var pairs = []string{"EURUSD", "BTCUSD", "ETHUSD"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// simulationClient handles HTTP communication with the arbitrage API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// envelope mirrors the standard response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newSimulationClient creates a client and authenticates with the API
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// call performs an authenticated request and decodes the response envelope
func (sc *simulationClient) call(method, path string, payload, out interface{}) error {
	var body *bytes.Buffer = bytes.NewBuffer(nil)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	if !env.Success {
		code := "UNKNOWN"
		if env.Error != nil {
			code = env.Error.Code
		}
		return fmt.Errorf("%s %s: %s", method, path, code)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// recordQuotes pushes a tick of quotes for every venue and pair
func (sc *simulationClient) recordQuotes() error {
	for _, venue := range exchange.All() {
		for _, pair := range pairs {
			bid, ask := venue.QuoteBidAsk()
			quote := map[string]interface{}{
				"exchange": venue.ID,
				"pair":     pair,
				"bid":      bid,
				"ask":      ask,
				"bid_size": rand.Float64() * 10,
				"ask_size": rand.Float64() * 10,
				"time":     time.Now().UTC(),
			}
			if err := sc.call(http.MethodPost, "/api/v1/internal/quotes", quote, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// createOrder records an order intent and returns its internal id
func (sc *simulationClient) createOrder(pair, exchangeName, side string, price float64) (uint, error) {
	payload := map[string]interface{}{
		"pair":     pair,
		"exchange": exchangeName,
		"side":     side,
		"info":     []interface{}{price, rand.Float64() * 2},
	}

	var order types.Order
	if err := sc.call(http.MethodPost, "/api/v1/internal/orders", payload, &order); err != nil {
		return 0, err
	}
	return order.SeqID, nil
}

// enqueue queues an order for execution
func (sc *simulationClient) enqueue(orderID uint) (string, error) {
	payload := map[string]interface{}{
		"order_id": orderID,
		"payload":  []interface{}{"submit"},
	}

	var task queue.Task
	if err := sc.call(http.MethodPost, "/api/v1/internal/queue/tasks", payload, &task); err != nil {
		return "", err
	}
	return task.TaskID, nil
}

// runWorker drains the queue over the worker HTTP interface until it stays
// empty: take, submit to the mock venue, record the exchange order id,
// advance the status, ack. Venue rejections release the task for retry.
func (sc *simulationClient) runWorker(id int, wg *sync.WaitGroup) {
	defer wg.Done()
	logger := log.With().Int("worker", id).Logger()

	for {
		var task queue.Task
		err := sc.call(http.MethodPost, "/api/v1/internal/queue/take?timeout=2s", nil, &task)
		if err != nil {
			logger.Error().Err(err).Msg("take failed")
			return
		}
		if task.TaskID == "" {
			logger.Info().Msg("queue drained, worker exiting")
			return
		}

		var order types.Order
		if err := sc.call(http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", task.OrderID), nil, &order); err != nil {
			logger.Error().Err(err).Msg("order lookup failed")
			continue
		}

		submission, err := exchange.Get(order.Exchange).Submit(&order)
		if err != nil {
			logger.Warn().Str("task_id", task.TaskID).Msg("venue rejected order, releasing")
			if err := sc.call(http.MethodPost, "/api/v1/internal/queue/tasks/"+task.TaskID+"/release", nil, nil); err != nil {
				logger.Error().Err(err).Msg("release failed")
			}
			continue
		}

		steps := []struct {
			path    string
			payload interface{}
		}{
			{fmt.Sprintf("/api/v1/internal/orders/%d/exchange-order-id", task.OrderID),
				map[string]string{"exchange_order_id": submission.ExchangeOrderID}},
			{fmt.Sprintf("/api/v1/internal/orders/%d/status", task.OrderID),
				map[string]string{"status": types.StatusExecuting}},
			{fmt.Sprintf("/api/v1/internal/orders/%d/status", task.OrderID),
				map[string]string{"status": types.StatusExecuted}},
			{"/api/v1/internal/queue/tasks/" + task.TaskID + "/ack", nil},
		}
		for _, step := range steps {
			if err := sc.call(http.MethodPost, step.path, step.payload, nil); err != nil {
				logger.Error().Err(err).Str("path", step.path).Msg("worker step failed")
				break
			}
		}
	}
}

func main() {
	log.Info().Msg("starting arbitrage simulation")

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	// Feed the quote store a few ticks per venue
	for i := 0; i < quoteTicks; i++ {
		if err := sc.recordQuotes(); err != nil {
			log.Fatal().Err(err).Msg("failed to record quotes")
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Producer: open both legs of each trade and queue them
	type legPair struct{ left, right uint }
	var trades []legPair
	for i := 0; i < numTrades; i++ {
		pair := pairs[rand.Intn(len(pairs))]

		buyID, err := sc.createOrder(pair, "gamma", types.SideBuy, 99.5)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create buy order")
		}
		sellID, err := sc.createOrder(pair, "beta", types.SideSell, 100.5)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sell order")
		}

		for _, orderID := range []uint{buyID, sellID} {
			if _, err := sc.enqueue(orderID); err != nil {
				log.Fatal().Err(err).Msg("failed to enqueue order")
			}
		}
		trades = append(trades, legPair{left: buyID, right: sellID})
	}
	log.Info().Int("trades", len(trades)).Msg("orders created and queued")

	// Workers drain the queue concurrently
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go sc.runWorker(i, &wg)
	}
	wg.Wait()

	// Record the arbitrage lineage for fully executed trades
	recorded := 0
	for _, trade := range trades {
		var left types.Order
		if err := sc.call(http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", trade.left), nil, &left); err != nil {
			log.Error().Err(err).Msg("failed to fetch left leg")
			continue
		}
		var right types.Order
		if err := sc.call(http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", trade.right), nil, &right); err != nil {
			log.Error().Err(err).Msg("failed to fetch right leg")
			continue
		}
		if left.Status != types.StatusExecuted || right.Status != types.StatusExecuted {
			continue
		}

		payload := map[string]uint{
			"left_order_id":  trade.left,
			"right_order_id": trade.right,
		}
		if err := sc.call(http.MethodPost, "/api/v1/internal/pairs", payload, nil); err != nil {
			log.Error().Err(err).Msg("failed to record pair")
			continue
		}
		recorded++
	}

	// Reconciliation reads
	var stats queue.Stats
	if err := sc.call(http.MethodGet, "/api/v1/internal/queue/stats", nil, &stats); err != nil {
		log.Error().Err(err).Msg("failed to fetch queue stats")
	}

	var spread map[string]interface{}
	if err := sc.call(http.MethodGet, "/api/v1/quotes/spread?ask_exchange=gamma&bid_exchange=beta&pair=EURUSD", nil, &spread); err != nil {
		log.Error().Err(err).Msg("failed to fetch spread")
	} else {
		log.Info().Interface("spread", spread).Msg("latest cross-exchange spread")
	}

	log.Info().
		Int("pairs_recorded", recorded).
		Int64("ready", stats.Ready).
		Int64("taken", stats.Taken).
		Int64("acked", stats.Acked).
		Int64("buried", stats.Buried).
		Msg("simulation complete")
}
