package kube

// Centralized label and annotation keys used by the kube adapter.
// Keep these constants stable; changes are API-visible in clusters.
const (
	// KdDomain is the namespace domain for all kdeploy labels and annotations.
	KdDomain = "kdeploy.dev"

	LabelAppK8sName      = "app.kubernetes.io/name"
	LabelAppK8sInstance  = "app.kubernetes.io/instance"
	LabelAppK8sManagedBy = "app.kubernetes.io/managed-by"

	// Ownership labels. Applied at creation and never altered afterwards.
	LabelKdApplication = KdDomain + "/application"
	LabelKdEnvironment = KdDomain + "/environment"
	LabelKdService     = KdDomain + "/service"

	// LabelKdVolume optionally names the logical volume a claim backs.
	LabelKdVolume = KdDomain + "/volume"

	AnnotationKdLastApplied = KdDomain + "/last-applied-configuration"
	AnnotationKdConfigHash  = KdDomain + "/config-hash"

	// ManagedByValue is the value of LabelAppK8sManagedBy on every resource kdeploy owns.
	ManagedByValue = "kdeploy"

	// FieldManager identifies kdeploy writes in managedFields.
	FieldManager = "kdeploy"
)
