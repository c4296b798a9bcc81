// MIT License
//
// (C) Copyright [2025] The OpenBatch Project
//
// Permission is hereby granted, free of charge, to any person obtaining a
// copy of this software and associated documentation files (the "Software"),
// to deal in the Software without restriction, including without limitation
// the rights to use, copy, modify, merge, publish, distribute, sublicense,
// and/or sell copies of the Software, and to permit persons to whom the
// Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included
// in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL
// THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR
// OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
// ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
// OTHER DEALINGS IN THE SOFTWARE.

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/model"
)

//This package carries reservation events off-box.  Owner events replace the
//mail the batch server used to send; accounting records feed whatever sits
//on the accounting queue.  With no broker configured the log-only provider
//is used instead and events only land in the service log.

const (
	ownerEventQueue    = "rcs.events"
	accountingQueue    = "rcs.accounting"
	amqpDialRetries    = 5
	amqpDialRetryWait  = time.Second * 5
	amqpPublishTimeout = time.Second * 10
)

type NOTIFY_GLOBALS struct {
	SvcName string
	Logger  *logrus.Logger
	AmqpURL string
}

// NotifierProvider delivers reservation events to interested parties.
type NotifierProvider interface {
	Init(globals *NOTIFY_GLOBALS) error
	Ping() error
	Close()
	OwnerEvent(ctx context.Context, ev model.OwnerEvent) error
	AccountingRecord(ctx context.Context, rec model.AccountingRecord) error
}

/////////////////////////////////////////////////////////////////////////////
// AMQP provider
/////////////////////////////////////////////////////////////////////////////

type AMQPNotifier struct {
	NotifyGlobals NOTIFY_GLOBALS
	mutex         sync.Mutex
	conn          *amqp.Connection
	channel       *amqp.Channel
}

func (b *AMQPNotifier) Init(globals *NOTIFY_GLOBALS) error {
	b.NotifyGlobals = NOTIFY_GLOBALS{}
	b.NotifyGlobals = *globals

	if b.NotifyGlobals.Logger == nil {
		b.NotifyGlobals.Logger = logrus.New()
	}
	if b.NotifyGlobals.AmqpURL == "" {
		return fmt.Errorf("ERROR: no AMQP URL is present.")
	}

	var err error
	for ix := 1; ix <= amqpDialRetries; ix++ {
		err = b.connect()
		if err == nil {
			break
		}
		b.NotifyGlobals.Logger.Errorf("ERROR: broker connection attempt %d of %d failed: %v",
			ix, amqpDialRetries, err)
		time.Sleep(amqpDialRetryWait)
	}
	if err != nil {
		return fmt.Errorf("AMQP notifier setup failed: %v", err)
	}
	b.NotifyGlobals.Logger.Info("AMQP notifier setup succeeded.")
	return nil
}

// connect dials the broker and declares both queues.  Queues are durable and
// deliveries persistent so records survive a broker restart.  Caller holds
// no lock; connect is also used for re-dial under the publish lock.
func (b *AMQPNotifier) connect() error {
	conn, err := amqp.Dial(b.NotifyGlobals.AmqpURL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	for _, qname := range []string{ownerEventQueue, accountingQueue} {
		if _, err := ch.QueueDeclare(qname, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return err
		}
	}
	b.conn = conn
	b.channel = ch
	return nil
}

func (b *AMQPNotifier) Ping() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("AMQP connection is not open.")
	}
	return nil
}

func (b *AMQPNotifier) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.channel != nil {
		b.channel.Close()
		b.channel = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *AMQPNotifier) publish(ctx context.Context, qname string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		b.NotifyGlobals.Logger.Warn("AMQP connection lost, re-dialing.")
		if err := b.connect(); err != nil {
			return err
		}
	}

	pctx, cancel := context.WithTimeout(ctx, amqpPublishTimeout)
	defer cancel()
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		AppId:        b.NotifyGlobals.SvcName,
		Body:         body,
	}
	return b.channel.PublishWithContext(pctx, "", qname, false, false, pub)
}

func (b *AMQPNotifier) OwnerEvent(ctx context.Context, ev model.OwnerEvent) error {
	err := b.publish(ctx, ownerEventQueue, ev)
	if err != nil {
		b.NotifyGlobals.Logger.WithFields(logrus.Fields{
			"ERROR": err, "resvID": ev.ReservationID, "event": ev.Event,
		}).Error("Owner event publish failed.")
	}
	return err
}

func (b *AMQPNotifier) AccountingRecord(ctx context.Context, rec model.AccountingRecord) error {
	err := b.publish(ctx, accountingQueue, rec)
	if err != nil {
		b.NotifyGlobals.Logger.WithFields(logrus.Fields{
			"ERROR": err, "resvID": rec.ReservationID, "type": rec.Type,
		}).Error("Accounting record publish failed.")
	}
	return err
}

/////////////////////////////////////////////////////////////////////////////
// Log-only provider
/////////////////////////////////////////////////////////////////////////////

type LogNotifier struct {
	NotifyGlobals NOTIFY_GLOBALS
}

func (b *LogNotifier) Init(globals *NOTIFY_GLOBALS) error {
	b.NotifyGlobals = NOTIFY_GLOBALS{}
	b.NotifyGlobals = *globals
	if b.NotifyGlobals.Logger == nil {
		b.NotifyGlobals.Logger = logrus.New()
	}
	b.NotifyGlobals.Logger.Info("Log-only notifier setup succeeded.")
	return nil
}

func (b *LogNotifier) Ping() error {
	return nil
}

func (b *LogNotifier) Close() {
}

func (b *LogNotifier) OwnerEvent(ctx context.Context, ev model.OwnerEvent) error {
	b.NotifyGlobals.Logger.WithFields(logrus.Fields{
		"resvID": ev.ReservationID, "owner": ev.Owner, "detail": ev.Detail,
	}).Infof("Reservation event: %s", ev.Event)
	return nil
}

func (b *LogNotifier) AccountingRecord(ctx context.Context, rec model.AccountingRecord) error {
	b.NotifyGlobals.Logger.WithFields(logrus.Fields{
		"resvID": rec.ReservationID, "type": rec.Type,
	}).Infof("Accounting: %s", rec.Text)
	return nil
}
