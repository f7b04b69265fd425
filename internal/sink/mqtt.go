package sink

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/temoto/solarmate/helpers"
	"github.com/temoto/solarmate/log2"
)

type MqttConfig struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	KeepaliveSec      int
	PingTimeoutSec    int
	PublishTimeoutSec int
	StorePath         string
}

// MqttPublisher is Persist delivery over MQTT QoS 1.
// Connection state is announced with retained byte on "<client id>/c".
type MqttPublisher struct {
	log          *log2.Log
	m            mqtt.Client
	timeout      time.Duration
	topicConnect string
}

var _ Publisher = &MqttPublisher{}

func NewMqttPublisher(config MqttConfig, log *log2.Log) *MqttPublisher {
	self := &MqttPublisher{
		log:          log,
		timeout:      helpers.IntSecondDefault(config.PublishTimeoutSec, 10*time.Second),
		topicConnect: config.ClientID + "/c",
	}
	keepAlive := helpers.IntSecondDefault(config.KeepaliveSec, 60*time.Second)
	pingTimeout := helpers.IntSecondDefault(config.PingTimeoutSec, 30*time.Second)
	mopt := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetBinaryWill(self.topicConnect, []byte{0x00}, 1, true).
		SetCleanSession(false).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout).
		SetOrderMatters(false).
		SetConnectRetryInterval(keepAlive / 2).
		SetConnectRetry(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	if config.StorePath != "" {
		mopt.SetStore(mqtt.NewFileStore(config.StorePath))
	}
	self.m = mqtt.NewClient(mopt)
	return self
}

// Start does not wait for connection.
func (self *MqttPublisher) Start() {
	if token := self.m.Connect(); token.Error() != nil {
		self.log.Errorf("persist mqtt connect err=%v", token.Error())
	}
}

func (self *MqttPublisher) Close() {
	if self.m.IsConnectionOpen() {
		self.m.Publish(self.topicConnect, 1, true, []byte{0x00}).WaitTimeout(time.Second)
	}
	self.m.Disconnect(250)
}

func (self *MqttPublisher) Publish(topic string, payload []byte) bool {
	if !self.m.IsConnectionOpen() {
		return false
	}
	token := self.m.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(self.timeout) {
		self.log.Errorf("persist mqtt publish topic=%s timeout", topic)
		return false
	}
	if err := token.Error(); err != nil {
		self.log.Errorf("persist mqtt publish topic=%s err=%v", topic, err)
		return false
	}
	return true
}

func (self *MqttPublisher) onConnectHandler(c mqtt.Client) {
	self.log.Infof("persist mqtt connect")
	c.Publish(self.topicConnect, 1, true, []byte{0x01})
}

func (self *MqttPublisher) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("persist mqtt disconnect err=%v", err)
}
