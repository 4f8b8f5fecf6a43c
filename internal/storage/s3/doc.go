/*
Package s3 provides a read-only resource store backed by an AWS S3 bucket.

Objects are addressed as

	<prefix>/<scope>/<path>

with the scope segment omitted for the default scope. A bundle is any "directory" under a scope;
List returns its direct children using a "/" delimiter.

# Errors

S3 failures are translated to pkg/errors codes:

	NoSuchKey, NotFound              RESOURCE_NOT_FOUND (an expected miss, never retried)
	AccessDenied, Forbidden, ...     ACCESS_DENIED
	NoSuchBucket                     STORAGE_READ
	context cancellation             OPERATION_CANCELED
	anything else                    NETWORK_ERROR (retried with exponential backoff)

Retries go through pkg/retry; the SDK's own retryer is limited to one attempt so every retry is
counted in the store metrics.

# Configuration

	store:
	  type: s3
	  s3:
	    bucket: app-assets
	    prefix: v2
	    region: eu-west-1
	    endpoint: http://localhost:9000   # optional, e.g. MinIO
	    use_path_style: true
	    retry:
	      max_attempts: 3
	      base_delay: 100ms
	      max_delay: 5s

Static credentials (access_key_id, secret_access_key) are optional; without them the default
AWS credential chain is used.
*/
package s3
