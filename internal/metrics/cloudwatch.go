package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-consistent-orders/internal/apperr"
	"github.com/imrishuroy/go-consistent-orders/internal/aws"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
	"github.com/imrishuroy/go-consistent-orders/internal/obs"
)

const putTimeout = 2 * time.Second

// CloudWatch publishes one PutMetricData call per event. Lambda has no
// long-lived process to flush a buffer from, so nothing is batched.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace, nowFunc: time.Now}
}

func (c *CloudWatch) OrderPlaced(lines int, total money.Amount) {
	c.put(
		datum("OrdersPlaced", 1, cwtypes.StandardUnitCount, nil),
		datum("OrderLinesPlaced", float64(lines), cwtypes.StandardUnitCount, nil),
		datum("OrderValue", total.InexactFloat64(), cwtypes.StandardUnitNone, nil),
	)
}

func (c *CloudWatch) PlacementRejected(kind apperr.Kind) {
	c.put(datum("PlacementsRejected", 1, cwtypes.StandardUnitCount, map[string]string{"Kind": string(kind)}))
}

func (c *CloudWatch) StockReleased(units int) {
	c.put(datum("StockUnitsReleased", float64(units), cwtypes.StandardUnitCount, nil))
}

func (c *CloudWatch) put(data ...cwtypes.MetricDatum) {
	now := c.nowFunc().UTC()
	for i := range data {
		data[i].Timestamp = &now
	}
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &c.namespace,
		MetricData: data,
	})
	if err != nil {
		obs.Logger.Warn("metrics_put_failed", "namespace", c.namespace, "error", err.Error())
	}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims map[string]string) cwtypes.MetricDatum {
	d := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       unit,
	}
	for k, v := range dims {
		k, v := k, v
		d.Dimensions = append(d.Dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}
	return d
}
