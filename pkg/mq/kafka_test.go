package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaConfigValidate(t *testing.T) {
	brokers := []string{"b:9092"}
	cases := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{"disabled", KafkaConfig{}, false},
		{"disabled ignores bad fields", KafkaConfig{Acks: "most"}, false},
		{"no brokers", KafkaConfig{Enabled: true}, true},
		{"ok", KafkaConfig{Enabled: true, Brokers: brokers, Consumers: []ConsumerConfig{{Group: "g", Topics: []string{"t"}}}}, false},
		{"consumer without group", KafkaConfig{Enabled: true, Brokers: brokers, Consumers: []ConsumerConfig{{Topics: []string{"t"}}}}, true},
		{"consumer without topics", KafkaConfig{Enabled: true, Brokers: brokers, Consumers: []ConsumerConfig{{Group: "g"}}}, true},
		{"version", KafkaConfig{Enabled: true, Brokers: brokers, Version: "3.6.0"}, false},
		{"bad version", KafkaConfig{Enabled: true, Brokers: brokers, Version: "three"}, true},
		{"acks upper case", KafkaConfig{Enabled: true, Brokers: brokers, Acks: "LEADER"}, false},
		{"bad acks", KafkaConfig{Enabled: true, Brokers: brokers, Acks: "most"}, true},
		{"oldest", KafkaConfig{Enabled: true, Brokers: brokers, InitialOffset: "oldest"}, false},
		{"bad offset", KafkaConfig{Enabled: true, Brokers: brokers, InitialOffset: "middle"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaramaConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := (&KafkaConfig{}).saramaConfig("social")
		require.NoError(t, err)
		assert.Equal(t, "social", cfg.ClientID)
		assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
		assert.Equal(t, sarama.OffsetNewest, cfg.Consumer.Offsets.Initial)
		assert.True(t, cfg.Producer.Return.Successes)
		assert.True(t, cfg.Consumer.Return.Errors)
	})

	t.Run("overrides", func(t *testing.T) {
		kc := KafkaConfig{ClientID: "edge-1", Version: "3.6.0", Acks: "leader", InitialOffset: "oldest"}
		cfg, err := kc.saramaConfig("social")
		require.NoError(t, err)
		assert.Equal(t, "edge-1", cfg.ClientID)
		assert.Equal(t, sarama.V3_6_0_0, cfg.Version)
		assert.Equal(t, sarama.WaitForLocal, cfg.Producer.RequiredAcks)
		assert.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
		require.NoError(t, cfg.Validate())
	})

	t.Run("bad version", func(t *testing.T) {
		_, err := (&KafkaConfig{Version: "x"}).saramaConfig("social")
		assert.Error(t, err)
	})
}

func TestKafkaProducer(t *testing.T) {
	t.Run("disabled returns nil", func(t *testing.T) {
		p, err := NewKafkaProducer(KafkaConfig{})
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.NoError(t, p.Publish("t", []byte("x")), "nil producer drops")
		assert.NoError(t, p.Close())
	})

	t.Run("publish with key", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, nil)
		mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			key, err := msg.Key.Encode()
			if err != nil {
				return err
			}
			if string(key) != "u1" || msg.Topic != "social.events" {
				return errors.New("unexpected message")
			}
			return nil
		})
		mock.ExpectSendMessageAndSucceed()

		p := newProducer(mock)
		require.NoError(t, p.PublishWithKey("social.events", "u1", []byte(`{}`)))
		require.NoError(t, p.Publish("social.events", []byte(`{}`)))
		require.NoError(t, p.Close())
	})

	t.Run("send failure is wrapped", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, nil)
		mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

		p := newProducer(mock)
		err := p.Publish("social.events", []byte(`{}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
		assert.Contains(t, err.Error(), "send to social.events")
		require.NoError(t, p.Close())
	})

	t.Run("subscribe unsupported", func(t *testing.T) {
		p := newProducer(mocks.NewSyncProducer(t, nil))
		assert.Error(t, p.Subscribe("t", nil))
		require.NoError(t, p.Close())
	})
}
