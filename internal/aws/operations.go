package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroups"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/patchwatch/patchwatch/internal/core"
)

// ErrObjectNotFound is returned by GetObject when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ---- SSM: maintenance windows ----

// ListMaintenanceWindows returns every maintenance window visible to sess.
func (f *ClientFactory) ListMaintenanceWindows(ctx context.Context, sess *core.Session) ([]core.MaintenanceWindow, error) {
	if err := f.wait(ctx, "ssm"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "ssm", "DescribeMaintenanceWindows", nil, nil)

	client := f.clients(sess).SSM
	var windows []core.MaintenanceWindow
	paginator := ssm.NewDescribeMaintenanceWindowsPaginator(client, &ssm.DescribeMaintenanceWindowsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			f.logAPICall(sess, "ssm", "DescribeMaintenanceWindows", nil, err)
			return nil, fmt.Errorf("DescribeMaintenanceWindows: %w", err)
		}
		for _, w := range page.WindowIdentities {
			windows = append(windows, core.MaintenanceWindow{
				WindowID:          aws.ToString(w.WindowId),
				Name:              aws.ToString(w.Name),
				NextExecutionTime: aws.ToString(w.NextExecutionTime),
			})
		}
		if err := f.wait(ctx, "ssm"); err != nil {
			return nil, err
		}
	}
	return windows, nil
}

// ListMaintenanceWindowTargets returns the registered targets of windowID.
func (f *ClientFactory) ListMaintenanceWindowTargets(ctx context.Context, sess *core.Session, windowID string) ([]core.MWTarget, error) {
	if err := f.wait(ctx, "ssm"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowTargets", map[string]string{"window_id": windowID}, nil)

	client := f.clients(sess).SSM
	var targets []core.MWTarget
	paginator := ssm.NewDescribeMaintenanceWindowTargetsPaginator(client, &ssm.DescribeMaintenanceWindowTargetsInput{
		WindowId: aws.String(windowID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowTargets", map[string]string{"window_id": windowID}, err)
			return nil, fmt.Errorf("DescribeMaintenanceWindowTargets(%s): %w", windowID, err)
		}
		for _, t := range page.Targets {
			mt := core.MWTarget{WindowTargetID: aws.ToString(t.WindowTargetId)}
			for _, rule := range t.Targets {
				mt.Rules = append(mt.Rules, core.TargetRule{
					Key:    aws.ToString(rule.Key),
					Values: append([]string(nil), rule.Values...),
				})
			}
			targets = append(targets, mt)
		}
		if err := f.wait(ctx, "ssm"); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

// ListExecutions returns up to limit of the most recent executions of windowID
// in a single request.
func (f *ClientFactory) ListExecutions(ctx context.Context, sess *core.Session, windowID string, limit int32) ([]core.Execution, error) {
	if err := f.wait(ctx, "ssm"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowExecutions", map[string]string{"window_id": windowID}, nil)

	input := &ssm.DescribeMaintenanceWindowExecutionsInput{WindowId: aws.String(windowID)}
	if limit > 0 {
		input.MaxResults = aws.Int32(limit)
	}
	out, err := f.clients(sess).SSM.DescribeMaintenanceWindowExecutions(ctx, input)
	if err != nil {
		f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowExecutions", map[string]string{"window_id": windowID}, err)
		return nil, fmt.Errorf("DescribeMaintenanceWindowExecutions(%s): %w", windowID, err)
	}

	execs := make([]core.Execution, 0, len(out.WindowExecutions))
	for _, e := range out.WindowExecutions {
		ex := core.Execution{ExecutionID: aws.ToString(e.WindowExecutionId)}
		if e.StartTime != nil {
			ex.StartTime = *e.StartTime
		}
		execs = append(execs, ex)
	}
	return execs, nil
}

// ListExecutionTasks returns the tasks of one window execution.
func (f *ClientFactory) ListExecutionTasks(ctx context.Context, sess *core.Session, executionID string) ([]core.ExecutionTask, error) {
	if err := f.wait(ctx, "ssm"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowExecutionTasks", map[string]string{"execution_id": executionID}, nil)

	client := f.clients(sess).SSM
	var tasks []core.ExecutionTask
	paginator := ssm.NewDescribeMaintenanceWindowExecutionTasksPaginator(client, &ssm.DescribeMaintenanceWindowExecutionTasksInput{
		WindowExecutionId: aws.String(executionID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowExecutionTasks", map[string]string{"execution_id": executionID}, err)
			return nil, fmt.Errorf("DescribeMaintenanceWindowExecutionTasks(%s): %w", executionID, err)
		}
		for _, t := range page.WindowExecutionTaskIdentities {
			tasks = append(tasks, core.ExecutionTask{
				TaskArn:         aws.ToString(t.TaskArn),
				TaskExecutionID: aws.ToString(t.TaskExecutionId),
			})
		}
		if err := f.wait(ctx, "ssm"); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// ListTaskInvocations returns the invocations of one execution task.
func (f *ClientFactory) ListTaskInvocations(ctx context.Context, sess *core.Session, executionID, taskExecutionID string) ([]core.TaskInvocation, error) {
	params := map[string]string{"execution_id": executionID, "task_execution_id": taskExecutionID}
	if err := f.wait(ctx, "ssm"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowExecutionTaskInvocations", params, nil)

	client := f.clients(sess).SSM
	var invocations []core.TaskInvocation
	paginator := ssm.NewDescribeMaintenanceWindowExecutionTaskInvocationsPaginator(client, &ssm.DescribeMaintenanceWindowExecutionTaskInvocationsInput{
		WindowExecutionId: aws.String(executionID),
		TaskId:            aws.String(taskExecutionID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			f.logAPICall(sess, "ssm", "DescribeMaintenanceWindowExecutionTaskInvocations", params, err)
			return nil, fmt.Errorf("DescribeMaintenanceWindowExecutionTaskInvocations(%s): %w", taskExecutionID, err)
		}
		for _, inv := range page.WindowExecutionTaskInvocationIdentities {
			invocations = append(invocations, core.TaskInvocation{
				InvocationID:       aws.ToString(inv.InvocationId),
				ParametersJSON:     aws.ToString(inv.Parameters),
				CommandExecutionID: aws.ToString(inv.ExecutionId),
			})
		}
		if err := f.wait(ctx, "ssm"); err != nil {
			return nil, err
		}
	}
	return invocations, nil
}

// ListCommandInvocations returns the per-instance results of a Run Command.
func (f *ClientFactory) ListCommandInvocations(ctx context.Context, sess *core.Session, commandID string) ([]core.CommandInvocation, error) {
	if err := f.wait(ctx, "ssm"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "ssm", "ListCommandInvocations", map[string]string{"command_id": commandID}, nil)

	client := f.clients(sess).SSM
	var results []core.CommandInvocation
	paginator := ssm.NewListCommandInvocationsPaginator(client, &ssm.ListCommandInvocationsInput{
		CommandId: aws.String(commandID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			f.logAPICall(sess, "ssm", "ListCommandInvocations", map[string]string{"command_id": commandID}, err)
			return nil, fmt.Errorf("ListCommandInvocations(%s): %w", commandID, err)
		}
		for _, ci := range page.CommandInvocations {
			results = append(results, core.CommandInvocation{
				InstanceID: aws.ToString(ci.InstanceId),
				Status:     string(ci.Status),
			})
		}
		if err := f.wait(ctx, "ssm"); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ---- EC2 / Resource Groups: target resolution ----

// ListInstancesByTagFilters returns the ids of instances matching all filters.
// Ids are returned in page order and may repeat across pages.
func (f *ClientFactory) ListInstancesByTagFilters(ctx context.Context, sess *core.Session, filters []core.TagFilter) ([]string, error) {
	if err := f.wait(ctx, "ec2"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "ec2", "DescribeInstances", map[string]string{"filters": fmt.Sprint(len(filters))}, nil)

	input := &ec2.DescribeInstancesInput{}
	for _, tf := range filters {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   aws.String(tf.Name),
			Values: append([]string(nil), tf.Values...),
		})
	}

	client := f.clients(sess).EC2
	var ids []string
	paginator := ec2.NewDescribeInstancesPaginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			f.logAPICall(sess, "ec2", "DescribeInstances", nil, err)
			return nil, fmt.Errorf("DescribeInstances: %w", err)
		}
		for _, r := range page.Reservations {
			for _, i := range r.Instances {
				if id := aws.ToString(i.InstanceId); id != "" {
					ids = append(ids, id)
				}
			}
		}
		if err := f.wait(ctx, "ec2"); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ListResourceGroupMembers returns the members of a resource group. Results
// are cached per account and region for five minutes.
func (f *ClientFactory) ListResourceGroupMembers(ctx context.Context, sess *core.Session, groupName string) ([]core.ResourceRef, error) {
	if cached, ok := f.groups.Get(sess.Account, groupName); ok {
		return cached, nil
	}

	if err := f.wait(ctx, "resource-groups"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "resource-groups", "ListGroupResources", map[string]string{"group": groupName}, nil)

	client := f.clients(sess).ResourceGroups
	var refs []core.ResourceRef
	paginator := resourcegroups.NewListGroupResourcesPaginator(client, &resourcegroups.ListGroupResourcesInput{
		Group: aws.String(groupName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			f.logAPICall(sess, "resource-groups", "ListGroupResources", map[string]string{"group": groupName}, err)
			return nil, fmt.Errorf("ListGroupResources(%s): %w", groupName, err)
		}
		for _, item := range page.Resources {
			if item.Identifier == nil {
				continue
			}
			refs = append(refs, core.ResourceRef{
				ARN:          aws.ToString(item.Identifier.ResourceArn),
				ResourceType: aws.ToString(item.Identifier.ResourceType),
			})
		}
		// Older endpoints only fill the deprecated identifier list.
		if len(page.Resources) == 0 {
			for _, id := range page.ResourceIdentifiers {
				refs = append(refs, core.ResourceRef{
					ARN:          aws.ToString(id.ResourceArn),
					ResourceType: aws.ToString(id.ResourceType),
				})
			}
		}
		if err := f.wait(ctx, "resource-groups"); err != nil {
			return nil, err
		}
	}
	f.groups.Put(sess.Account, groupName, refs)
	return refs, nil
}

// ---- STS ----

type AssumeRoleResult struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
	AssumedRoleARN  string
}

// AssumeRole calls STS AssumeRole as the base identity.
func (f *ClientFactory) AssumeRole(ctx context.Context, roleARN, sessionName string, durationSecs int32) (*AssumeRoleResult, error) {
	params := map[string]string{
		"role_arn":     roleARN,
		"session_name": sessionName,
	}
	if err := f.wait(ctx, "sts"); err != nil {
		return nil, err
	}
	f.logAPICall(nil, "sts", "AssumeRole", params, nil)

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
	}
	if durationSecs > 0 {
		input.DurationSeconds = aws.Int32(durationSecs)
	}

	f.mu.Lock()
	client := f.sts
	f.mu.Unlock()

	out, err := client.AssumeRole(ctx, input)
	if err != nil {
		f.logAPICall(nil, "sts", "AssumeRole", params, err)
		return nil, fmt.Errorf("AssumeRole(%s): %w", roleARN, err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("AssumeRole(%s): response carried no credentials", roleARN)
	}

	result := &AssumeRoleResult{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
	}
	if out.AssumedRoleUser != nil {
		result.AssumedRoleARN = aws.ToString(out.AssumedRoleUser.Arn)
	}
	if out.Credentials.Expiration != nil {
		result.Expiration = *out.Credentials.Expiration
	}
	return result, nil
}

// ---- S3 ----

// PutObject writes body to bucket/key in the session's region.
func (f *ClientFactory) PutObject(ctx context.Context, sess *core.Session, bucket, key string, body []byte, contentType string) error {
	params := map[string]string{"bucket": bucket, "key": key}
	if err := f.wait(ctx, "s3"); err != nil {
		return err
	}
	f.logAPICall(sess, "s3", "PutObject", params, nil)

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := f.clients(sess).S3.PutObject(ctx, input); err != nil {
		f.logAPICall(sess, "s3", "PutObject", params, err)
		return fmt.Errorf("PutObject(s3://%s/%s): %w", bucket, key, err)
	}
	return nil
}

// GetObject reads bucket/key. A missing key yields ErrObjectNotFound.
func (f *ClientFactory) GetObject(ctx context.Context, sess *core.Session, bucket, key string) ([]byte, error) {
	params := map[string]string{"bucket": bucket, "key": key}
	if err := f.wait(ctx, "s3"); err != nil {
		return nil, err
	}
	f.logAPICall(sess, "s3", "GetObject", params, nil)

	out, err := f.clients(sess).S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		f.logAPICall(sess, "s3", "GetObject", params, err)
		return nil, fmt.Errorf("GetObject(s3://%s/%s): %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// ---- SES ----

// SendEmail sends an HTML message through SES in region and returns the message id.
func (f *ClientFactory) SendEmail(ctx context.Context, sess *core.Session, region, from string, to []string, subject, html string) (string, error) {
	params := map[string]string{"from": from, "subject": subject, "recipients": fmt.Sprint(len(to))}
	if err := f.wait(ctx, "ses"); err != nil {
		return "", err
	}
	f.logAPICall(sess, "ses", "SendEmail", params, nil)

	if region == "" {
		region = sess.Account.Region
	}
	out, err := f.clientsForRegion(sess, region).SES.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(from),
		Destination: &sestypes.Destination{ToAddresses: to},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		f.logAPICall(sess, "ses", "SendEmail", params, err)
		return "", fmt.Errorf("SendEmail: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
