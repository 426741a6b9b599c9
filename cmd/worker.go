package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"discovery-worker/config"
	"discovery-worker/domain"
	"discovery-worker/services"
)

const (
	MaxBatchSize   = 10
	FlushInterval  = 1 * time.Second
	SQSMaxMessages = 10
	ReceiveBackoff = 5 * time.Second
)

type messageQueue interface {
	ReceiveMessages(ctx context.Context, queueURL string, maxMessages int32) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, queueURL string, entries []types.DeleteMessageBatchRequestEntry) error
}

type discoveryRunner interface {
	Run(ctx context.Context, req domain.DiscoveryRequest) (*services.RunResult, error)
}

func newCmdWorker() *cobra.Command {
	var numWorkers int
	cmd := &cobra.Command{
		Use:   "worker [flags]",
		Short: "Consume discovery requests from SQS",
		Example: heredoc.Doc(`
			$ INPUT_QUEUE_URL=http://localhost:4566/000000000000/discovery discovery-worker worker --workers 4
		`),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.InputQueueURL == "" {
				return errors.New("INPUT_QUEUE_URL is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			f, err := newFactory(ctx, cfg)
			if err != nil {
				return err
			}

			log.Info().Int("workers", numWorkers).Int("batch_size", MaxBatchSize).Msg("Discovery worker started")
			consume(ctx, f.sqs, f.service, cfg.InputQueueURL, numWorkers)
			log.Info().Msg("Shutdown complete.")
			return nil
		},
	}

	cmd.Flags().IntVar(&numWorkers, "workers", 2, "Number of concurrent discovery runs")
	return cmd
}

// consume receives messages until ctx is done, then drains the workers and
// flushes pending deletes.
func consume(ctx context.Context, queue messageQueue, svc discoveryRunner, queueURL string, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	jobs := make(chan types.Message, numWorkers*2)
	deletes := make(chan types.Message, numWorkers*2)

	var workerWg sync.WaitGroup
	var deleterWg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		workerWg.Add(1)
		go worker(ctx, &workerWg, svc, jobs, deletes, i)
	}

	deleterWg.Add(1)
	go batchDeleter(&deleterWg, queue, queueURL, deletes)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		msgOutput, err := queue.ReceiveMessages(ctx, queueURL, SQSMaxMessages)
		if err != nil {
			if ctx.Err() != nil {
				break loop
			}
			log.Error().Err(err).Msg("failed to receive messages")
			select {
			case <-time.After(ReceiveBackoff):
			case <-ctx.Done():
				break loop
			}
			continue
		}

		for _, msg := range msgOutput.Messages {
			select {
			case jobs <- msg:
			case <-ctx.Done():
				break loop
			}
		}
	}

	log.Info().Msg("Main loop exited, waiting for workers to finish...")
	close(jobs)
	workerWg.Wait()
	close(deletes)
	deleterWg.Wait()
}

// worker handles jobs until the channel closes. Messages still buffered after
// shutdown are left on the queue without starting a run.
func worker(ctx context.Context, wg *sync.WaitGroup, svc discoveryRunner, jobs <-chan types.Message, deletes chan<- types.Message, id int) {
	defer wg.Done()
	for msg := range jobs {
		if ctx.Err() != nil {
			log.Debug().Int("worker", id).Str("message_id", aws.ToString(msg.MessageId)).Msg("shutting down, leaving message on queue")
			continue
		}
		if handleMessage(ctx, svc, msg, id) {
			deletes <- msg
		}
	}
}

// handleMessage runs one request and reports whether the message is done
// with. Cancelled runs stay on the queue for another worker.
func handleMessage(ctx context.Context, svc discoveryRunner, msg types.Message, id int) bool {
	logger := log.With().Int("worker", id).Logger()
	if msg.Body == nil {
		logger.Warn().Msg("dropping message without body")
		return true
	}

	var req domain.DiscoveryRequest
	if err := json.Unmarshal([]byte(*msg.Body), &req); err != nil {
		logger.Error().Err(err).Msg("failed to unmarshal discovery request")
		return true
	}

	res, err := svc.Run(ctx, req)
	switch {
	case err == nil:
		logger.Info().Str("run_id", res.RunID).Msg("discovery request handled")
	case errors.Is(err, domain.ErrCancelled):
		logger.Warn().Str("run_id", res.RunID).Msg("discovery run interrupted, leaving message on queue")
		return false
	case errors.Is(err, domain.ErrNoData):
		logger.Warn().Str("run_id", res.RunID).Msg("discovery run found no data")
	default:
		logger.Error().Err(err).Msg("discovery run failed")
	}
	return true
}

func batchDeleter(wg *sync.WaitGroup, queue messageQueue, queueURL string, deletes <-chan types.Message) {
	defer wg.Done()
	var batch []types.DeleteMessageBatchRequestEntry
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			if err := queue.DeleteMessageBatch(context.Background(), queueURL, batch); err != nil {
				log.Error().Err(err).Msg("Failed to delete batch")
			}
			batch = nil
		}
	}

	for {
		select {
		case msg, ok := <-deletes:
			if !ok {
				flush()
				return
			}
			batch = append(batch, types.DeleteMessageBatchRequestEntry{
				Id:            msg.MessageId,
				ReceiptHandle: msg.ReceiptHandle,
			})
			if len(batch) >= MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
