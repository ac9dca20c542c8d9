package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"medreport-backend/internal/bootstrap"
	"medreport-backend/internal/shared/config"
	"medreport-backend/internal/shared/metrics"
	"medreport-backend/internal/shared/telemetry"
	"medreport-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}

	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncAnalysisJobsReceived()
		if err := workerproc.HandleMessage(ctx, app.ReportsService, record.Body); err != nil {
			var procErr workerproc.ErrProcess
			if !errors.As(err, &procErr) {
				// Unparseable payloads never succeed on redelivery.
				telemetry.Error("lambda.report.dropped", map[string]any{
					"sqs_message_id": record.MessageId,
					"error":          err.Error(),
				})
				metrics.IncAnalysisJobsDeletedUnrecoverable()
				continue
			}
			telemetry.Error("lambda.report.failed", map[string]any{
				"sqs_message_id": record.MessageId,
				"report_id":      procErr.ReportID,
				"request_id":     procErr.RequestID,
				"error":          procErr.Err.Error(),
			})
			metrics.IncAnalysisJobsFailed()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		metrics.IncAnalysisJobsCompleted()
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func main() {
	lambda.Start(handler)
}
