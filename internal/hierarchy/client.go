package hierarchy

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"accounting/internal/codec"
	"accounting/internal/model"
)

const serviceName = "hierarchy.ProjectHierarchy"

type projectRequest struct {
	ProjectID string `json:"project_id"`
	Username  string `json:"username,omitempty"`
}

type projectsResponse struct {
	Projects []string `json:"projects"`
}

type roleResponse struct {
	Role model.ProjectRole `json:"role"`
}

// Client talks to the remote project hierarchy service over gRPC.
type Client struct {
	conn grpc.ClientConnInterface
}

// Dial connects to the hierarchy service and returns a Client and a cleanup function.
func Dial(addr string) (*Client, func(), error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)),
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = conn.Close() }
	return NewClient(conn), cleanup, nil
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Ancestors(ctx context.Context, projectID string) ([]string, error) {
	var res projectsResponse
	if err := c.invoke(ctx, "Ancestors", &projectRequest{ProjectID: projectID}, &res); err != nil {
		return nil, err
	}
	return res.Projects, nil
}

func (c *Client) Subprojects(ctx context.Context, projectID string) ([]string, error) {
	var res projectsResponse
	if err := c.invoke(ctx, "Subprojects", &projectRequest{ProjectID: projectID}, &res); err != nil {
		return nil, err
	}
	return res.Projects, nil
}

func (c *Client) MemberRole(ctx context.Context, projectID, username string) (model.ProjectRole, error) {
	var res roleResponse
	if err := c.invoke(ctx, "MemberRole", &projectRequest{ProjectID: projectID, Username: username}, &res); err != nil {
		return model.ProjectRoleNone, err
	}
	return res.Role, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, res any) error {
	err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, res, grpc.CallContentSubtype(codec.Name))
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrUnknownProject, status.Convert(err).Message())
	}
	return fmt.Errorf("hierarchy %s: %w", method, err)
}
