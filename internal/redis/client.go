package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// UserChannel is the private pub/sub channel for one platform user.
func UserChannel(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// OrgChannel is the organization-wide pub/sub channel.
func OrgChannel(organizationID string) string {
	return fmt.Sprintf("org:%s", organizationID)
}
