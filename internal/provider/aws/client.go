// Package aws implements the provider contract against EC2 using the
// AWS SDK v2. One Client serves one region; every resource it creates
// carries the managed and session tags so the cleanup sweep can find
// orphans without a local state record.
package aws

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/elsewhere-cli/elsewhere/internal/logging"
	"github.com/elsewhere-cli/elsewhere/internal/provider"
	"github.com/elsewhere-cli/elsewhere/internal/region"
)

// sshPort is the only ingress the session firewall permits.
const sshPort = 22

// api is the subset of the EC2 client the adapter uses. Narrowing the
// dependency keeps the adapter testable without a live endpoint.
type api interface {
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error)
	DeleteKeyPair(ctx context.Context, params *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error)
	DescribeKeyPairs(ctx context.Context, params *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Client implements provider.Provisioner for one EC2 region.
type Client struct {
	api    api
	region string
	clock  clock.Clock
	log    *logging.Logger

	// pollInterval is how often readiness polls run.
	pollInterval time.Duration
	// dial probes instance reachability; injectable for tests.
	dial func(ctx context.Context, addr string) error
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for readiness polling.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a Client for the given region using the ambient AWS
// credential chain.
func New(ctx context.Context, regionCode string, opts ...Option) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(regionCode))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return newClient(ec2.NewFromConfig(cfg), regionCode, opts...), nil
}

// Factory returns a provider.Factory backed by New, for multi-region
// cleanup sweeps.
func Factory(opts ...Option) provider.Factory {
	return func(ctx context.Context, regionCode string) (provider.Provisioner, error) {
		return New(ctx, regionCode, opts...)
	}
}

func newClient(a api, regionCode string, opts ...Option) *Client {
	c := &Client{
		api:          a,
		region:       regionCode,
		clock:        clock.WallClock,
		log:          logging.Nop(),
		pollInterval: 5 * time.Second,
		dial: func(ctx context.Context, addr string) error {
			d := net.Dialer{Timeout: 3 * time.Second}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithRegion(regionCode)
	return c
}

func resourceName() string {
	return fmt.Sprintf("%s-%s", provider.NamePrefix, uuid.NewString())
}

func tagSpec(resourceType types.ResourceType, name, sessionID string) types.TagSpecification {
	tags := []types.Tag{
		{Key: aws.String(provider.ManagedTag), Value: aws.String("true")},
		{Key: aws.String(provider.SessionTag), Value: aws.String(sessionID)},
	}
	if name != "" {
		tags = append(tags, types.Tag{Key: aws.String("Name"), Value: aws.String(name)})
	}
	return types.TagSpecification{
		ResourceType: resourceType,
		Tags:         tags,
	}
}

// CreateFirewall creates the session's security group. The ingress
// rule is added by AuthorizeIngress so a failed rule can be retried
// against this group instead of creating another one.
func (c *Client) CreateFirewall(ctx context.Context, sessionID string) (string, error) {
	name := resourceName()
	c.log.Debug("creating security group", "name", name)

	out, err := c.api.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("Temporary security group for an elsewhere session"),
		TagSpecifications: []types.TagSpecification{
			tagSpec(types.ResourceTypeSecurityGroup, name, sessionID),
		},
	})
	if err != nil {
		return "", classify("create firewall", err)
	}

	groupID := aws.ToString(out.GroupId)
	c.log.Info("security group created", "firewall_ref", groupID)
	return groupID, nil
}

// AuthorizeIngress permits SSH from the caller's current address on the
// session's security group.
func (c *Client) AuthorizeIngress(ctx context.Context, firewallRef, callerCIDR string) error {
	c.log.Debug("authorizing ingress", "firewall_ref", firewallRef, "ingress", callerCIDR)

	_, err := c.api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(firewallRef),
		IpPermissions: []types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(sshPort),
			ToPort:     aws.Int32(sshPort),
			IpRanges: []types.IpRange{{
				CidrIp:      aws.String(callerCIDR),
				Description: aws.String("elsewhere caller address"),
			}},
		}},
	})
	if err != nil {
		return classify("authorize ingress", err)
	}
	return nil
}

// RegisterKey imports public key material under a generated name.
func (c *Client) RegisterKey(ctx context.Context, sessionID, publicKey string) (string, error) {
	name := resourceName()
	c.log.Debug("importing key pair", "name", name)

	out, err := c.api.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(name),
		PublicKeyMaterial: []byte(publicKey),
		TagSpecifications: []types.TagSpecification{
			tagSpec(types.ResourceTypeKeyPair, "", sessionID),
		},
	})
	if err != nil {
		return "", classify("register key", err)
	}

	keyName := aws.ToString(out.KeyName)
	c.log.Info("key pair registered", "key_ref", keyName)
	return keyName, nil
}

// CreateInstance launches the session instance with the firewall and
// key created in the earlier phases.
func (c *Client) CreateInstance(ctx context.Context, spec provider.InstanceSpec) (string, error) {
	arm := region.IsARMInstanceType(spec.InstanceType)
	amiID, err := c.latestAMI(ctx, arm)
	if err != nil {
		return "", err
	}
	c.log.Debug("launching instance", "ami", amiID, "instance_type", spec.InstanceType)

	out, err := c.api.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(amiID),
		InstanceType:     types.InstanceType(spec.InstanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		SecurityGroupIds: []string{spec.FirewallRef},
		KeyName:          aws.String(spec.KeyRef),
		TagSpecifications: []types.TagSpecification{
			tagSpec(types.ResourceTypeInstance, provider.NamePrefix+"-instance", spec.SessionID),
		},
	})
	if err != nil {
		return "", classify("create instance", err)
	}
	if len(out.Instances) == 0 {
		return "", provider.Permanent("create instance", fmt.Errorf("no instance returned"))
	}

	instanceID := aws.ToString(out.Instances[0].InstanceId)
	c.log.Info("instance launched", "instance_ref", instanceID)
	return instanceID, nil
}

// latestAMI finds the most recent Amazon Linux 2023 image for the
// architecture.
func (c *Client) latestAMI(ctx context.Context, arm bool) (string, error) {
	arch := "x86_64"
	if arm {
		arch = "arm64"
	}

	out, err := c.api.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{"amazon"},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{fmt.Sprintf("al2023-ami-2023.*-%s", arch)}},
			{Name: aws.String("state"), Values: []string{"available"}},
			{Name: aws.String("architecture"), Values: []string{arch}},
		},
	})
	if err != nil {
		return "", classify("find image", err)
	}
	if len(out.Images) == 0 {
		return "", provider.Permanent("find image", fmt.Errorf("no Amazon Linux 2023 image for %s", arch))
	}

	images := out.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return aws.ToString(images[0].ImageId), nil
}

// WaitInstanceReady polls until the instance is running with a public
// address that accepts connections on the SSH port. The caller bounds
// the wait through ctx.
func (c *Client) WaitInstanceReady(ctx context.Context, instanceRef string) (string, error) {
	c.log.Debug("waiting for instance", "instance_ref", instanceRef)

	var publicIP string
	for publicIP == "" {
		inst, err := c.describeInstance(ctx, instanceRef)
		if err != nil {
			return "", err
		}

		state := types.InstanceStateNamePending
		if inst.State != nil {
			state = inst.State.Name
		}
		switch state {
		case types.InstanceStateNameRunning:
			publicIP = aws.ToString(inst.PublicIpAddress)
		case types.InstanceStateNameTerminated, types.InstanceStateNameShuttingDown:
			return "", provider.Permanent("wait instance", fmt.Errorf("instance %s terminated unexpectedly", instanceRef))
		}

		if publicIP == "" {
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return "", err
			}
		}
	}

	// Running is not reachable: wait for the SSH port to accept.
	addr := net.JoinHostPort(publicIP, fmt.Sprint(sshPort))
	for {
		if err := c.dial(ctx, addr); err == nil {
			break
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return "", err
		}
	}

	c.log.Info("instance ready", "instance_ref", instanceRef, "public_ip", publicIP)
	return publicIP, nil
}

func (c *Client) describeInstance(ctx context.Context, instanceRef string) (*types.Instance, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceRef},
	})
	if err != nil {
		return nil, classify("describe instance", err)
	}
	for _, r := range out.Reservations {
		for i := range r.Instances {
			return &r.Instances[i], nil
		}
	}
	return nil, provider.Permanent("describe instance", fmt.Errorf("instance %s not found", instanceRef))
}

// DestroyInstance terminates the instance and waits for the terminated
// state so dependent resources (the security group) become deletable.
// An already-absent instance reports provider.ErrAbsent.
func (c *Client) DestroyInstance(ctx context.Context, instanceRef string) error {
	c.log.Debug("terminating instance", "instance_ref", instanceRef)

	_, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceRef},
	})
	if err != nil {
		if isNotFound(err) {
			return provider.ErrAbsent
		}
		return classify("destroy instance", err)
	}

	for {
		out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceRef},
		})
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return classify("destroy instance", err)
		}

		terminated := true
		for _, r := range out.Reservations {
			for _, inst := range r.Instances {
				if inst.State == nil || inst.State.Name != types.InstanceStateNameTerminated {
					terminated = false
				}
			}
		}
		if terminated {
			c.log.Info("instance terminated", "instance_ref", instanceRef)
			return nil
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

// DestroyFirewall deletes the security group. Absent reports
// provider.ErrAbsent;
// a lingering dependency (instance still releasing its interface) is
// transient and retried by the caller.
func (c *Client) DestroyFirewall(ctx context.Context, firewallRef string) error {
	c.log.Debug("deleting security group", "firewall_ref", firewallRef)

	_, err := c.api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(firewallRef),
	})
	if err != nil {
		if isNotFound(err) {
			return provider.ErrAbsent
		}
		return classify("destroy firewall", err)
	}
	c.log.Info("security group deleted", "firewall_ref", firewallRef)
	return nil
}

// DestroyKey deregisters the key pair. Absent reports provider.ErrAbsent.
func (c *Client) DestroyKey(ctx context.Context, keyRef string) error {
	c.log.Debug("deleting key pair", "key_ref", keyRef)

	_, err := c.api.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(keyRef),
	})
	if err != nil {
		if isNotFound(err) {
			return provider.ErrAbsent
		}
		return classify("destroy key", err)
	}
	c.log.Info("key pair deleted", "key_ref", keyRef)
	return nil
}

// ListTagged returns every resource in the region carrying the managed
// tag: instances not already terminated, security groups, and key pairs.
func (c *Client) ListTagged(ctx context.Context) (provider.TaggedResources, error) {
	var res provider.TaggedResources
	managedFilter := types.Filter{
		Name:   aws.String("tag:" + provider.ManagedTag),
		Values: []string{"true"},
	}

	instances, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			managedFilter,
			{
				Name:   aws.String("instance-state-name"),
				Values: []string{"pending", "running", "stopping", "stopped"},
			},
		},
	})
	if err != nil {
		return res, classify("list instances", err)
	}
	for _, r := range instances.Reservations {
		for _, inst := range r.Instances {
			res.Instances = append(res.Instances, aws.ToString(inst.InstanceId))
		}
	}

	groups, err := c.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{managedFilter},
	})
	if err != nil {
		return res, classify("list security groups", err)
	}
	for _, g := range groups.SecurityGroups {
		res.Firewalls = append(res.Firewalls, aws.ToString(g.GroupId))
	}

	keys, err := c.api.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		Filters: []types.Filter{managedFilter},
	})
	if err != nil {
		return res, classify("list key pairs", err)
	}
	for _, k := range keys.KeyPairs {
		res.Keys = append(res.Keys, aws.ToString(k.KeyName))
	}

	return res, nil
}

// sleep waits for d or until ctx is done, whichever comes first.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}
