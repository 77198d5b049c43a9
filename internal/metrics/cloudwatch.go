package metrics

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"stockwatch/logger"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
	region    string
}

var cwState atomic.Pointer[cloudWatchState]

// metricDatum is one queued CloudWatch publication.
type metricDatum struct {
	component string
	name      string
	value     float64
	fields    logger.Fields
}

const publishQueueCap = 256

// publishQueue decouples emitters from the CloudWatch API call so hot
// paths, the feed read loop in particular, never wait on the network.
// The queue is bounded; a full queue drops the datum.
var (
	publishQueue  = make(chan metricDatum, publishQueueCap)
	publisherOnce sync.Once
)

func init() {
	cwState.Store(&cloudWatchState{namespace: "StockWatch"})
}

func startPublisher() {
	publisherOnce.Do(func() {
		go func() {
			for datum := range publishQueue {
				publishMetricDatum(context.Background(), datum)
			}
		}()
	})
}

func enqueueMetricDatum(datum metricDatum) bool {
	select {
	case publishQueue <- datum:
		return true
	default:
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
			"metric": datum.name,
		}).Debug("publish queue full; dropping metric")
		return false
	}
}

// InitCloudWatch initialises the CloudWatch client using the provided region
// and namespace. When the client cannot be created the function logs a
// warning and leaves publishing disabled.
func InitCloudWatch(region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	current := cwState.Load()
	state := cloudWatchState{}
	if current != nil {
		state = *current
	}

	state.client = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		state.namespace = namespace
	}
	if cfg.Region != "" {
		state.region = cfg.Region
	} else {
		state.region = region
	}

	cwState.Store(&state)
	startPublisher()

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")
}

// EmitMetric logs a structured metric, fans it out to registered handlers
// and publishes numeric values to CloudWatch when a client is configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	metricEvent, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}

	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	numericValue, ok := toFloat64(metricEvent.Value)
	if !ok {
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": metricEvent.Name}).Debug("non-numeric metric value; skipping publish")
		return
	}

	enqueueMetricDatum(metricDatum{
		component: metricEvent.Component,
		name:      metricEvent.Name,
		value:     numericValue,
		fields:    cloneFields(metricEvent.Fields),
	})
}

func publishMetricDatum(ctx context.Context, datum metricDatum) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(datum.component)}}
	for k, v := range datum.fields {
		if s, ok := v.(string); ok {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	data := []cwtypes.MetricDatum{{
		MetricName: aws.String(datum.name),
		Dimensions: dims,
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(datum.value),
	}}

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Debug("failed to publish metric")
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
