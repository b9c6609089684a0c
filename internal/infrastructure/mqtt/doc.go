// Package mqtt provides the publish-only MQTT client used for the
// notification sink and system status announcements.
//
// Connection management, reconnect backoff, and Last Will configuration
// are handled internally; callers only see Publish.
package mqtt
